// conf/consts.go hard coded constants
package conf

const (
	// ProtocolVersionMin is the lowest native protocol version driftsoundd will
	// speak to a client; clients advertising less are rejected at AUTH.
	ProtocolVersionMin = 8
	// ProtocolVersionMax is the native protocol version this server implements.
	ProtocolVersionMax = 32

	// CookieLength is the fixed size, in bytes, of the authentication cookie.
	CookieLength = 256

	// DefaultUnixSocketMode is the filesystem permission applied to a freshly
	// created unix control socket.
	DefaultUnixSocketMode = 0o700
)
