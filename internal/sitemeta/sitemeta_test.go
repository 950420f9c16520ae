package sitemeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestParseHeaders(t *testing.T) {
	src := "<?php\n/**\n * Plugin Name: Hello Dolly\n * Plugin URI: http://wordpress.org/plugins/hello-dolly/\n * Version: 1.7.2 */\n"
	got := ParseHeaders([]byte(src), "Plugin Name", "Version", "Author")
	assert.Equal(t, map[string]string{
		"Plugin Name": "Hello Dolly",
		"Version":     "1.7.2",
		"Author":      "",
	}, got)
}

func TestParseHeadersCarriageReturns(t *testing.T) {
	got := ParseHeaders([]byte("/*\r\nTheme Name: Classic\r\nVersion: 2.0\r\n*/"), "Theme Name", "Version")
	assert.Equal(t, "Classic", got["Theme Name"])
	assert.Equal(t, "2.0", got["Version"])
}

func TestCoreVersion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "wp-includes", "version.php"), "<?php\n$wp_db_version = 58975;\n$wp_version = '6.7.1';\n")

	v, err := NewFS(root, "").CoreVersion()
	require.NoError(t, err)
	assert.Equal(t, "6.7.1", v)
}

func TestCoreVersionMissing(t *testing.T) {
	_, err := NewFS(t.TempDir(), "").CoreVersion()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPluginData(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "wp-content", "plugins", "akismet", "akismet.php")
	writeFile(t, path, "<?php\n/*\nPlugin Name: Akismet Anti-spam\nVersion: 5.3\n*/\n")

	info, err := NewFS(root, "").PluginData(path)
	require.NoError(t, err)
	assert.Equal(t, Info{Name: "Akismet Anti-spam", Version: "5.3"}, info)
}

func TestTheme(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "wp-content", "themes", "twentytwentyfour", "style.css"), "/*\nTheme Name: Twenty Twenty-Four\nVersion: 1.2\n*/\n")

	fs := NewFS(root, "")
	info, err := fs.Theme("twentytwentyfour")
	require.NoError(t, err)
	assert.Equal(t, Info{Name: "Twenty Twenty-Four", Version: "1.2"}, info)

	_, err = fs.Theme("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fs.Theme("../etc")
	assert.Error(t, err)
}
