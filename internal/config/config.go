package config

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/bizcrawl/internal/fetcher"
	"github.com/nao1215/bizcrawl/internal/retry"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "bizcrawl"

	// DefaultMaxResults caps the business records of one run.
	DefaultMaxResults = 50

	// MinMaxResults and MaxMaxResults bound MaxResults.
	MinMaxResults = 1
	MaxMaxResults = 1000

	// DefaultMaxConcurrency is the number of pages fetched at once.
	DefaultMaxConcurrency = 3

	// MaxMaxConcurrency bounds MaxConcurrency. More parallel fetches against
	// one directory get blocked quickly.
	MaxMaxConcurrency = 10

	// DefaultMaxRetries is the retry budget of transient failures.
	DefaultMaxRetries = retry.DefaultMaxRetries

	// DefaultMaxBlockedRetries is the retry budget of blocked pages.
	DefaultMaxBlockedRetries = retry.DefaultMaxBlockedRetries

	// DefaultMaxPages bounds how many search pages are followed.
	DefaultMaxPages = 20

	// MaxEnrichConcurrency bounds parallel fetches of business websites.
	MaxEnrichConcurrency = 5

	// MaxEnrichRetries bounds retries of business website pages. Websites
	// are many distinct hosts, and one that fails twice rarely recovers.
	MaxEnrichRetries = 2

	DefaultRetryBaseDelay   = retry.DefaultBaseDelay
	DefaultBlockedBaseDelay = retry.DefaultBlockedBaseDelay
	DefaultMaxRetryDelay    = retry.DefaultMaxDelay

	DefaultNavigationTimeout = fetcher.DefaultNavigationTimeout
	DefaultRequestTimeout    = fetcher.DefaultRequestTimeout
	DefaultProbeTimeout      = fetcher.DefaultProbeTimeout
	DefaultMaxBodySize       = fetcher.DefaultMaxBodySize

	// DefaultRequestsPerSecond limits the fetch rate of the whole run.
	DefaultRequestsPerSecond = 2.0

	// DefaultProxyCountryCode selects the exit country of rotating proxies.
	DefaultProxyCountryCode = "US"

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultSearchBaseURL is the search endpoint used with --search and --location.
	DefaultSearchBaseURL = "https://www.yelp.com/search"

	// DefaultViewport is the viewport hint sent with requests.
	DefaultViewport = "1920x1080"

	// DefaultRedisAddr is the Redis address of the redis storage driver.
	DefaultRedisAddr = "127.0.0.1:6379"
)

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// DefaultContactPaths are tried below every business website.
var DefaultContactPaths = []string{"/contact", "/about", "/contact-us", "/about-us"}

// DefaultUserAgents are rotated per request.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config holds all configuration options of bizcrawl.
// It is populated from the config file, the environment and CLI flags and
// passed down explicitly.
type Config struct {
	// SearchURLs are the search pages the discovery phase starts from.
	SearchURLs []string

	// SearchTerm and Location build a search URL when SearchURLs is empty.
	SearchTerm string
	Location   string

	// SearchBaseURL is the endpoint SearchTerm and Location are sent to.
	SearchBaseURL string

	// MaxResults caps the DETAIL pages of one run, clamped to [1,1000].
	MaxResults int

	// MaxConcurrency is the worker count, clamped to [1,10].
	MaxConcurrency int

	// MaxRetries bounds the retries of transient failures.
	MaxRetries int

	// MaxBlockedRetries bounds the retries of blocked pages.
	MaxBlockedRetries int

	// MaxPages bounds how many search pages are followed.
	MaxPages int

	// FetchContacts runs the enrichment phase after discovery.
	FetchContacts bool

	// ContactPaths are tried below each business website.
	ContactPaths []string

	// ProbeContactPaths sends a HEAD request before a contact path is
	// enqueued and skips paths that do not exist.
	ProbeContactPaths bool

	RetryBaseDelay   time.Duration
	BlockedBaseDelay time.Duration
	MaxRetryDelay    time.Duration

	// NavigationTimeout bounds the wait for response headers.
	NavigationTimeout time.Duration

	// RequestTimeout bounds a whole request including the body.
	RequestTimeout time.Duration

	// RequestsPerSecond limits the fetch rate. Zero disables the limit.
	RequestsPerSecond float64

	// MaxBodySize is the maximum response body size in bytes to read.
	MaxBodySize int64

	// Navigation holds the anti-detection parameters sent with requests.
	Navigation fetcher.NavPolicy

	// ContentMarkers lists, per work item kind name, strings of which one
	// must appear on an OK page.
	ContentMarkers map[string][]string

	// ProxyEnabled routes requests through ProxyURL.
	ProxyEnabled bool

	// ProxyURL is a socks5://, socks5h://, http:// or https:// proxy, or
	// "tor" for the embedded Tor daemon.
	ProxyURL string

	// ProxyCountryCode selects the exit country of rotating proxies.
	ProxyCountryCode string

	// TorStartupTimeout bounds the bootstrap of the embedded Tor daemon.
	TorStartupTimeout time.Duration

	// DebugCapture saves pages that did not classify OK under CaptureDir.
	DebugCapture bool
	CaptureDir   string

	// StorageDriver is one of StorageSQLite, StorageRedis or StorageMemory.
	StorageDriver string

	// DBDir is the directory of the SQLite database.
	DBDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Verbose enables debug logging.
	Verbose bool

	// LogJSON switches logs to JSON.
	LogJSON bool

	// JSONReport and MarkdownReport select the report format; both false
	// means plain text. They are mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile is the output file path for the report. Empty means stdout.
	ReportFile string

	// ConfigFilePath is the path to the configuration file.
	// If empty, .bizcrawl is searched in the current and home directories.
	ConfigFilePath string

	// EnvFile is the .env file loaded before environment overrides.
	EnvFile string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		SearchBaseURL:     DefaultSearchBaseURL,
		MaxResults:        DefaultMaxResults,
		MaxConcurrency:    DefaultMaxConcurrency,
		MaxRetries:        DefaultMaxRetries,
		MaxBlockedRetries: DefaultMaxBlockedRetries,
		MaxPages:          DefaultMaxPages,
		FetchContacts:     true,
		ContactPaths:      append([]string(nil), DefaultContactPaths...),
		ProbeContactPaths: true,
		RetryBaseDelay:    DefaultRetryBaseDelay,
		BlockedBaseDelay:  DefaultBlockedBaseDelay,
		MaxRetryDelay:     DefaultMaxRetryDelay,
		NavigationTimeout: DefaultNavigationTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		MaxBodySize:       DefaultMaxBodySize,
		Navigation: fetcher.NavPolicy{
			UserAgents: append([]string(nil), DefaultUserAgents...),
			Viewport:   DefaultViewport,
			MinDelay:   500 * time.Millisecond,
			MaxDelay:   1500 * time.Millisecond,
		},
		ProxyCountryCode:  DefaultProxyCountryCode,
		TorStartupTimeout: DefaultTorStartupTimeout,
		CaptureDir:        filepath.Join(XDGCacheDir(), "captures"),
		StorageDriver:     StorageSQLite,
		DBDir:             XDGDataDir(),
		RedisAddr:         DefaultRedisAddr,
		EnvFile:           ".env",
	}
}

// XDGDataDir returns the XDG data directory for bizcrawl.
// On Linux: ~/.local/share/bizcrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for bizcrawl.
// On Linux: ~/.config/bizcrawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for bizcrawl.
// On Linux: ~/.cache/bizcrawl
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Normalize clamps the numeric options into their allowed ranges and fills
// defaults for zero values.
func (c *Config) Normalize() {
	c.MaxResults = clamp(c.MaxResults, MinMaxResults, MaxMaxResults)
	c.MaxConcurrency = clamp(c.MaxConcurrency, 1, MaxMaxConcurrency)
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	if c.StorageDriver == "" {
		c.StorageDriver = StorageSQLite
	}
	c.ProxyCountryCode = strings.ToUpper(strings.TrimSpace(c.ProxyCountryCode))
	if c.ProxyURL != "" && !c.ProxyEnabled {
		c.ProxyEnabled = true
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Validate checks if the configuration is valid for a crawl.
// It returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Seeds()) == 0 {
		return ErrNoSearch
	}
	for _, raw := range c.SearchURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidSearchURL
		}
	}
	return c.ValidateCommon()
}

// ValidateCommon checks the options shared by every command.
func (c *Config) ValidateCommon() error {
	if c.MaxRetries < 0 || c.MaxBlockedRetries < 0 {
		return ErrInvalidRetries
	}
	if c.RetryBaseDelay <= 0 || c.BlockedBaseDelay <= 0 || c.MaxRetryDelay <= 0 {
		return ErrInvalidRetryDelay
	}
	if c.NavigationTimeout <= 0 || c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RequestsPerSecond < 0 {
		return ErrInvalidRate
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.Navigation.MinDelay < 0 || c.Navigation.MaxDelay < 0 {
		return ErrInvalidNavigationDelay
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	switch c.StorageDriver {
	case StorageSQLite, StorageRedis, StorageMemory:
	default:
		return ErrUnknownStorage
	}
	if c.ProxyEnabled && c.ProxyURL == "" {
		return ErrProxyURLRequired
	}
	return nil
}

// Seeds returns the search URLs to start from: SearchURLs, or the URL built
// from SearchTerm and Location.
func (c *Config) Seeds() []string {
	if len(c.SearchURLs) > 0 {
		return c.SearchURLs
	}
	if c.SearchTerm == "" {
		return nil
	}
	return []string{BuildSearchURL(c.SearchBaseURL, c.SearchTerm, c.Location)}
}

// BuildSearchURL builds a directory search URL for term near location.
func BuildSearchURL(base, term, location string) string {
	if base == "" {
		base = DefaultSearchBaseURL
	}
	q := url.Values{}
	q.Set("find_desc", strings.TrimSpace(term))
	if location = strings.TrimSpace(location); location != "" {
		q.Set("find_loc", location)
	}
	return base + "?" + q.Encode()
}

// RetryPolicy returns the retry policy configured by c.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:        c.MaxRetries,
		MaxBlockedRetries: c.MaxBlockedRetries,
		BaseDelay:         c.RetryBaseDelay,
		BlockedBaseDelay:  c.BlockedBaseDelay,
		MaxDelay:          c.MaxRetryDelay,
	}
}

// EnrichmentConcurrency returns the worker count of the enrichment phase.
func (c *Config) EnrichmentConcurrency() int {
	return min(c.MaxConcurrency, MaxEnrichConcurrency)
}

// EnrichmentRetryPolicy returns the retry policy of the enrichment phase:
// the configured policy with retries capped at MaxEnrichRetries.
func (c *Config) EnrichmentRetryPolicy() retry.Policy {
	p := c.RetryPolicy()
	p.MaxRetries = min(p.MaxRetries, MaxEnrichRetries)
	p.MaxBlockedRetries = min(p.MaxBlockedRetries, MaxEnrichRetries)
	return p
}

// NavPolicy returns the navigation policy configured by c.
func (c *Config) NavPolicy() fetcher.NavPolicy {
	p := c.Navigation
	p.ProxyEnabled = c.ProxyEnabled
	p.ProxyCountryCode = c.ProxyCountryCode
	return p
}
