package config

import (
	"time"

	"github.com/nao1215/bizcrawl/internal/fetcher"
)

// File represents the structure of the .bizcrawl configuration file.
// Unset fields keep the value already in the Config.
type File struct {
	MaxResults        *int  `yaml:"maxResults,omitempty"`
	MaxConcurrency    *int  `yaml:"maxConcurrency,omitempty"`
	MaxRetries        *int  `yaml:"maxRetries,omitempty"`
	MaxBlockedRetries *int  `yaml:"maxBlockedRetries,omitempty"`
	MaxPages          *int  `yaml:"maxPages,omitempty"`
	FetchContacts     *bool `yaml:"fetchContactsFromWebsite,omitempty"`

	ContactPaths      []string `yaml:"contactPagePaths,omitempty"`
	ProbeContactPaths *bool    `yaml:"probeContactPaths,omitempty"`

	RetryBaseDelay    *time.Duration `yaml:"retryBaseDelay,omitempty"`
	BlockedBaseDelay  *time.Duration `yaml:"blockedBaseDelay,omitempty"`
	MaxRetryDelay     *time.Duration `yaml:"maxRetryDelay,omitempty"`
	NavigationTimeout *time.Duration `yaml:"navigationTimeout,omitempty"`
	RequestTimeout    *time.Duration `yaml:"requestTimeout,omitempty"`

	RequestsPerSecond *float64 `yaml:"requestsPerSecond,omitempty"`

	// Navigation replaces the fields it sets in the built-in navigation policy.
	Navigation *fetcher.NavPolicy `yaml:"navigation,omitempty"`

	// ContentMarkers maps a kind name (search, detail, enrich_home,
	// enrich_path) to its expected content markers.
	ContentMarkers map[string][]string `yaml:"contentMarkers,omitempty"`

	SearchBaseURL string `yaml:"searchBaseUrl,omitempty"`

	ProxyEnabled     *bool  `yaml:"proxyEnabled,omitempty"`
	ProxyURL         string `yaml:"proxyUrl,omitempty"`
	ProxyCountryCode string `yaml:"proxyCountryCode,omitempty"`

	DebugCapture *bool  `yaml:"debugCapture,omitempty"`
	CaptureDir   string `yaml:"captureDir,omitempty"`

	Storage StorageFile `yaml:"storage,omitempty"`
}

// StorageFile is the storage section of the configuration file.
type StorageFile struct {
	Driver string    `yaml:"driver,omitempty"`
	Dir    string    `yaml:"dir,omitempty"`
	Redis  RedisFile `yaml:"redis,omitempty"`
}

// RedisFile configures the redis storage driver. The password is read from
// BIZCRAWL_REDIS_PASSWORD only.
type RedisFile struct {
	Addr   string `yaml:"addr,omitempty"`
	DB     *int   `yaml:"db,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// ApplyFile overlays the values set in f onto c.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	setInt(&c.MaxResults, f.MaxResults)
	setInt(&c.MaxConcurrency, f.MaxConcurrency)
	setInt(&c.MaxRetries, f.MaxRetries)
	setInt(&c.MaxBlockedRetries, f.MaxBlockedRetries)
	setInt(&c.MaxPages, f.MaxPages)
	setBool(&c.FetchContacts, f.FetchContacts)
	setBool(&c.ProbeContactPaths, f.ProbeContactPaths)
	setBool(&c.ProxyEnabled, f.ProxyEnabled)
	setBool(&c.DebugCapture, f.DebugCapture)
	setDuration(&c.RetryBaseDelay, f.RetryBaseDelay)
	setDuration(&c.BlockedBaseDelay, f.BlockedBaseDelay)
	setDuration(&c.MaxRetryDelay, f.MaxRetryDelay)
	setDuration(&c.NavigationTimeout, f.NavigationTimeout)
	setDuration(&c.RequestTimeout, f.RequestTimeout)
	if f.RequestsPerSecond != nil {
		c.RequestsPerSecond = *f.RequestsPerSecond
	}
	if len(f.ContactPaths) > 0 {
		c.ContactPaths = append([]string(nil), f.ContactPaths...)
	}
	if len(f.ContentMarkers) > 0 {
		c.ContentMarkers = make(map[string][]string, len(f.ContentMarkers))
		for kind, markers := range f.ContentMarkers {
			c.ContentMarkers[kind] = append([]string(nil), markers...)
		}
	}
	if f.Navigation != nil {
		c.applyNavigation(*f.Navigation)
	}
	setString(&c.SearchBaseURL, f.SearchBaseURL)
	setString(&c.ProxyURL, f.ProxyURL)
	setString(&c.ProxyCountryCode, f.ProxyCountryCode)
	setString(&c.CaptureDir, f.CaptureDir)
	setString(&c.StorageDriver, f.Storage.Driver)
	setString(&c.DBDir, f.Storage.Dir)
	setString(&c.RedisAddr, f.Storage.Redis.Addr)
	setString(&c.RedisPrefix, f.Storage.Redis.Prefix)
	setInt(&c.RedisDB, f.Storage.Redis.DB)
}

func (c *Config) applyNavigation(nav fetcher.NavPolicy) {
	if len(nav.UserAgents) > 0 {
		c.Navigation.UserAgents = append([]string(nil), nav.UserAgents...)
	}
	setString(&c.Navigation.Viewport, nav.Viewport)
	if len(nav.Headers) > 0 {
		c.Navigation.Headers = make(map[string]string, len(nav.Headers))
		for k, v := range nav.Headers {
			c.Navigation.Headers[k] = v
		}
	}
	setString(&c.Navigation.Cookie, nav.Cookie)
	if nav.MinDelay != 0 || nav.MaxDelay != 0 {
		c.Navigation.MinDelay = nav.MinDelay
		c.Navigation.MaxDelay = nav.MaxDelay
	}
	setString(&c.ProxyCountryCode, nav.ProxyCountryCode)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
