package recipients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	dir := StaticDirectory{
		"devuser": "dev@example.org",
		"blank":   "",
	}

	got, err := Resolve("admin@example.org", []string{"devuser", "ops@example.org", "ghost", "blank", "ADMIN@example.org", " ", "dev@example.org"}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@example.org", "dev@example.org", "ops@example.org"}, got)
}

func TestResolveAdminOnly(t *testing.T) {
	got, err := Resolve("admin@example.org", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@example.org"}, got)
}

func TestResolveUsernameWithoutDirectory(t *testing.T) {
	got, err := Resolve("admin@example.org", []string{"someone"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@example.org"}, got)
}

func TestResolveRequiresAdmin(t *testing.T) {
	_, err := Resolve("  ", []string{"a@example.org"}, nil)
	assert.Error(t, err)
}
