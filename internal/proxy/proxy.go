// Package proxy builds the HTTP transport requests leave through.
//
// A proxy is given as a URL: socks5:// and socks5h:// use a SOCKS5 dialer
// from golang.org/x/net/proxy, http:// and https:// use the CONNECT support
// of net/http. The special value "tor" starts an embedded Tor daemon with
// tornago and routes through its SOCKS port. No proxy means a direct
// transport.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// TorKeyword selects the embedded Tor daemon instead of a proxy URL.
const TorKeyword = "tor"

// checkTimeout bounds a connectivity check.
const checkTimeout = 3 * time.Second

// SOCKS5 greeting constants.
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthPassword = 0x02
	socks5AuthNoAccept = 0xFF
)

// Config describes how to reach the network.
type Config struct {
	// URL is the proxy URL. Empty means direct connections.
	URL string

	// CountryCode is appended to the proxy user name as "-country-XX", the
	// convention of rotating residential proxy providers. Ignored when the
	// proxy URL carries no user name.
	CountryCode string

	// DialTimeout bounds establishing each connection.
	DialTimeout time.Duration
}

// ParseURL validates a proxy URL.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxyURL, err) //nolint:errorlint // parse errors are flattened on purpose
	}
	switch u.Scheme {
	case "socks5", "socks5h", "http", "https":
	case "":
		return nil, ErrInvalidProxyURL
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxyScheme, u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, ErrInvalidProxyURL
	}
	return u, nil
}

// NewTransport builds an *http.Transport for cfg.
func NewTransport(cfg Config) (*http.Transport, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	direct := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext:           direct.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return transport, nil
	}

	u, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	withCountry(u, cfg.CountryCode)

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return transport, nil
	}

	var auth *xproxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &xproxy.Auth{User: u.User.Username(), Password: password}
	}
	dialer, err := xproxy.SOCKS5("tcp", u.Host, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	transport.DialContext = contextDialer(dialer)
	// HTTP/2 over a custom dialer needs TLS negotiation we do not control.
	transport.ForceAttemptHTTP2 = false
	return transport, nil
}

// contextDialer adapts a proxy.Dialer to DialContext.
func contextDialer(d xproxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(xproxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialResult struct {
			conn net.Conn
			err  error
		}
		ch := make(chan dialResult, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			ch <- dialResult{conn, err}
		}()
		select {
		case r := <-ch:
			return r.conn, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// withCountry appends the exit country to the proxy user name.
func withCountry(u *url.URL, country string) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if u.User == nil || country == "" {
		return
	}
	name := u.User.Username()
	if strings.Contains(strings.ToLower(name), "country-") {
		return
	}
	name += "-country-" + country
	if password, ok := u.User.Password(); ok {
		u.User = url.UserPassword(name, password)
	} else {
		u.User = url.User(name)
	}
}

// Redact returns raw with any password replaced by "xxxxx".
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// CheckConnection verifies the proxy is reachable and, for SOCKS5, that it
// completes a greeting.
func CheckConnection(ctx context.Context, raw string) Status {
	u, err := ParseURL(raw)
	if err != nil {
		return StatusCannotConnect
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return StatusTimeout
		}
		return StatusCannotConnect
	}
	defer conn.Close()

	if !strings.HasPrefix(u.Scheme, "socks5") {
		return StatusOK
	}

	if err := conn.SetDeadline(time.Now().Add(checkTimeout)); err != nil {
		return StatusCannotConnect
	}
	if _, err := conn.Write([]byte{socks5Version, 0x02, socks5AuthNone, socks5AuthPassword}); err != nil {
		return StatusCannotConnect
	}
	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return StatusTimeout
		}
		return StatusWrongType
	}
	if resp[0] != socks5Version || resp[1] == socks5AuthNoAccept {
		return StatusWrongType
	}
	return StatusOK
}
