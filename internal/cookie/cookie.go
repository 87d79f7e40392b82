// Package cookie implements the native protocol's authentication cookie:
// a fixed-length opaque blob clients present in the AUTH command,
// compared in constant time against the server's own copy, plus the
// local-socket peer-credential fallback (spec.md §4.7 step 3: "match
// either a cookie byte string (constant-time compare) or (on local
// sockets) peer uid against the server's uid / configured group", §6
// "Authentication cookie").
//
// Grounded on _examples/original_source/src/protocol-native.c's
// PA_NATIVE_COOKIE_LENGTH-sized auth_cookie field and its
// memcmp-against-arbitrary-tag AUTH handler (cookie.c itself, the
// upstream pa_authkey_load_from_home, was not retrieved into
// original_source/; the load-or-generate-then-persist behavior below is
// this repository's own straightforward interpretation of "a 256-byte
// opaque blob stored in a user-private file").
package cookie

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/logger"
)

// Component identifies this package in structured error context.
const Component = "cookie"

// Length is the fixed cookie size in bytes (spec.md §6 "A fixed-length
// (256-byte) opaque blob").
const Length = 256

// Cookie is the 256-byte authentication token compared against every
// AUTH command's arbitrary-tag payload.
type Cookie [Length]byte

// Load reads a cookie from path, generating and persisting a fresh
// random one if the file does not exist. The file is created with mode
// 0600 (user-private, per spec.md §6's "user-private file").
func Load(path string) (Cookie, error) {
	log := GetLogger()

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != Length {
			return Cookie{}, errors.Newf("%s is %d bytes, want %d", path, len(data), Length).
				Component(Component).
				Category(errors.CategoryValidation).
				Build()
		}
		var c Cookie
		copy(c[:], data)
		log.Debug("loaded existing authentication cookie", logger.String("path", path))
		return c, nil
	}
	if !os.IsNotExist(err) {
		return Cookie{}, fmt.Errorf("cookie: reading %s: %w", path, err)
	}

	var c Cookie
	if _, err := rand.Read(c[:]); err != nil {
		return Cookie{}, fmt.Errorf("cookie: generating random cookie: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Cookie{}, fmt.Errorf("cookie: creating cookie directory: %w", err)
	}
	if err := os.WriteFile(path, c[:], 0o600); err != nil {
		return Cookie{}, fmt.Errorf("cookie: writing %s: %w", path, err)
	}
	log.Info("generated new authentication cookie", logger.String("path", path))
	return c, nil
}

// Equal reports whether candidate matches c, in constant time regardless
// of where the first differing byte falls (spec.md §4.7 step 3
// "constant-time compare").
func (c Cookie) Equal(candidate []byte) bool {
	if len(candidate) != Length {
		return false
	}
	return subtle.ConstantTimeCompare(c[:], candidate) == 1
}

// Bytes returns c's raw bytes, for embedding in an AUTH request's
// arbitrary tag.
func (c Cookie) Bytes() []byte {
	return c[:]
}
