// Package recipients resolves the report's mailing list.
package recipients

import (
	"fmt"
	"strings"

	"github.com/mordilloSan/go-logger/logger"
)

// Directory looks up a user's email address by login name.
type Directory interface {
	EmailFor(username string) (string, bool)
}

// StaticDirectory is a Directory backed by a fixed username → address map.
type StaticDirectory map[string]string

// EmailFor implements Directory.
func (d StaticDirectory) EmailFor(username string) (string, bool) {
	addr, ok := d[username]
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}

// Resolve returns admin followed by extras. Extras without an "@" are
// usernames and are looked up in dir; names that cannot be resolved are
// skipped. Duplicates (case-insensitive) are dropped, keeping the first.
func Resolve(admin string, extras []string, dir Directory) ([]string, error) {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return nil, fmt.Errorf("admin email is required")
	}

	out := []string{admin}
	seen := map[string]bool{strings.ToLower(admin): true}

	for _, entry := range extras {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		addr := entry
		if !strings.Contains(entry, "@") {
			var ok bool
			if dir != nil {
				addr, ok = dir.EmailFor(entry)
			}
			if !ok {
				logger.Warnf("no email address for user %q, skipping", entry)
				continue
			}
		}

		key := strings.ToLower(addr)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}

	return out, nil
}
