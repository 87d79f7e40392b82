package cookie

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesAndPersistsCookie(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "cookie")

	c1, err := Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c1, c2, "a second Load of the same path must return the same persisted cookie")
}

func TestEqualRejectsWrongLength(t *testing.T) {
	var c Cookie
	assert.False(t, c.Equal([]byte{1, 2, 3}))
}

func TestEqualMatchesIdenticalBytes(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "cookie"))
	require.NoError(t, err)
	assert.True(t, c.Equal(c.Bytes()))
}

func TestEqualRejectsDifferentCookie(t *testing.T) {
	dir := t.TempDir()
	c1, err := Load(filepath.Join(dir, "a"))
	require.NoError(t, err)
	c2, err := Load(filepath.Join(dir, "b"))
	require.NoError(t, err)
	assert.False(t, c1.Equal(c2.Bytes()))
}

func TestAuthorizedByUIDMatchesServerUID(t *testing.T) {
	creds := PeerCredentials{UID: 1000, GID: 1000}
	assert.True(t, AuthorizedByUID(creds, 1000, 0, false))
}

func TestAuthorizedByUIDMatchesAllowedGID(t *testing.T) {
	creds := PeerCredentials{UID: 1001, GID: 50}
	assert.True(t, AuthorizedByUID(creds, 1000, 50, true))
}

func TestAuthorizedByUIDRejectsUnrelatedPeer(t *testing.T) {
	creds := PeerCredentials{UID: 1001, GID: 50}
	assert.False(t, AuthorizedByUID(creds, 1000, 60, true))
	assert.False(t, AuthorizedByUID(creds, 1000, 0, false))
}
