package proxy

import "errors"

// Proxy configuration and connectivity errors.
var (
	// ErrInvalidProxyURL is returned when the proxy URL cannot be parsed or
	// lacks a host and port.
	ErrInvalidProxyURL = errors.New("invalid proxy url: expected scheme://[user:pass@]host:port")

	// ErrUnsupportedProxyScheme is returned for schemes other than socks5,
	// socks5h, http and https.
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// could be established.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the proxy did not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to proxy")

	// ErrProxyWrongType is returned when the proxy answers but does not speak
	// the protocol its URL scheme announces.
	ErrProxyWrongType = errors.New("proxy does not speak the expected protocol")

	// ErrEmbeddedTorNotRunning is returned when the embedded Tor daemon is used
	// before it was started.
	ErrEmbeddedTorNotRunning = errors.New("embedded Tor daemon is not running")
)

// Status is the result of a proxy connectivity check.
type Status int

const (
	// StatusOK means the proxy answered in its protocol.
	StatusOK Status = iota

	// StatusWrongType means the proxy answered in another protocol.
	StatusWrongType

	// StatusCannotConnect means the proxy could not be reached.
	StatusCannotConnect

	// StatusTimeout means the check timed out.
	StatusTimeout
)

// String returns a human-readable description of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWrongType:
		return "wrong type"
	case StatusCannotConnect:
		return "cannot connect"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Err returns the error matching the status, or nil when OK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusWrongType:
		return ErrProxyWrongType
	case StatusCannotConnect:
		return ErrProxyCannotConnect
	case StatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
