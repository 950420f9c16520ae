// Package sitemeta reads component metadata from a site's files: the
// installed core version, plugin headers and theme stylesheet headers.
package sitemeta

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// headerBytes is how much of a file is scanned for header fields.
const headerBytes = 8 * 1024

// ErrNotFound is returned when the component's files do not exist.
var ErrNotFound = errors.New("component not found")

// Info is the name and version a component declares about itself.
type Info struct {
	Name    string
	Version string
}

// FS reads metadata from a site installed at Root.
type FS struct {
	Root      string
	ThemesDir string
}

// NewFS creates a metadata reader for the site at root. An empty
// themesDir defaults to root/wp-content/themes.
func NewFS(root, themesDir string) *FS {
	if themesDir == "" {
		themesDir = filepath.Join(root, "wp-content", "themes")
	}
	return &FS{Root: root, ThemesDir: themesDir}
}

var coreVersionRe = regexp.MustCompile(`\$wp_version\s*=\s*['"]([^'"]+)['"]`)

// CoreVersion returns the currently installed core version.
func (f *FS) CoreVersion() (string, error) {
	path := filepath.Join(f.Root, "wp-includes", "version.php")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("reading core version: %w", err)
	}
	m := coreVersionRe.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no version declared in %s", path)
	}
	return string(m[1]), nil
}

// PluginData reads the header of the plugin's main file at path.
func (f *FS) PluginData(path string) (Info, error) {
	fields, err := readHeaders(path, "Plugin Name", "Version")
	if err != nil {
		return Info{}, err
	}
	return Info{Name: fields["Plugin Name"], Version: fields["Version"]}, nil
}

// Theme reads the stylesheet header of the theme in directory slug.
func (f *FS) Theme(slug string) (Info, error) {
	if slug == "" || strings.ContainsAny(slug, `/\`) || slug == ".." {
		return Info{}, fmt.Errorf("invalid theme name %q", slug)
	}
	fields, err := readHeaders(filepath.Join(f.ThemesDir, slug, "style.css"), "Theme Name", "Version")
	if err != nil {
		return Info{}, err
	}
	return Info{Name: fields["Theme Name"], Version: fields["Version"]}, nil
}

func readHeaders(path string, names ...string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, headerBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseHeaders(data, names...), nil
}

// ParseHeaders extracts "Name: value" header fields from the leading
// comment block of a file. Missing fields map to "".
func ParseHeaders(data []byte, names ...string) map[string]string {
	text := strings.ReplaceAll(string(data), "\r", "\n")
	out := make(map[string]string, len(names))
	for _, name := range names {
		re := regexp.MustCompile(`(?mi)^[ \t/*#@]*` + regexp.QuoteMeta(name) + `:(.*)$`)
		value := ""
		if m := re.FindStringSubmatch(text); m != nil {
			value = cleanHeaderValue(m[1])
		}
		out[name] = value
	}
	return out
}

func cleanHeaderValue(v string) string {
	if i := strings.Index(v, "*/"); i >= 0 {
		v = v[:i]
	}
	if i := strings.Index(v, "?>"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
