package api

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator decides whether a hook request may proceed.
type Authenticator interface {
	Authenticate(r *http.Request) (string, bool)
	Required() bool
}

// HtpasswdAuth checks HTTP basic credentials against an htpasswd file.
// Supported hashes are bcrypt and {SHA}.
type HtpasswdAuth struct {
	users    map[string]string // username -> hashed password
	mu       sync.RWMutex
	filePath string
}

// NewHtpasswdAuth loads the htpasswd file at filePath.
func NewHtpasswdAuth(filePath string) (*HtpasswdAuth, error) {
	a := &HtpasswdAuth{filePath: filePath}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-reads the htpasswd file.
func (a *HtpasswdAuth) Reload() error {
	f, err := os.Open(a.filePath)
	if err != nil {
		return fmt.Errorf("opening htpasswd file: %w", err)
	}
	defer f.Close()

	users, err := parseHtpasswd(f)
	if err != nil {
		return fmt.Errorf("reading htpasswd file: %w", err)
	}

	a.mu.Lock()
	a.users = users
	a.mu.Unlock()
	return nil
}

func parseHtpasswd(r io.Reader) (map[string]string, error) {
	users := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" {
			continue
		}
		users[user] = hash
	}
	return users, scanner.Err()
}

// Required returns true
func (a *HtpasswdAuth) Required() bool {
	return true
}

// Authenticate checks the request's basic credentials.
func (a *HtpasswdAuth) Authenticate(r *http.Request) (string, bool) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", false
	}

	a.mu.RLock()
	stored, known := a.users[username]
	a.mu.RUnlock()
	if !known {
		return "", false
	}
	return username, checkPassword(password, stored)
}

func checkPassword(password, stored string) bool {
	switch {
	case strings.HasPrefix(stored, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	case strings.HasPrefix(stored, "{SHA}"):
		hash := sha1.Sum([]byte(password))
		expected := "{SHA}" + base64.StdEncoding.EncodeToString(hash[:])
		return subtle.ConstantTimeCompare([]byte(expected), []byte(stored)) == 1
	}
	return false
}

// NoAuth lets every request through.
type NoAuth struct{}

// Authenticate always returns true
func (NoAuth) Authenticate(r *http.Request) (string, bool) {
	return "anonymous", true
}

// Required returns false
func (NoAuth) Required() bool {
	return false
}
