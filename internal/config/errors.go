package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoSearch is returned when neither a search URL nor a search term is given.
	ErrNoSearch = errors.New("no search specified: provide a search URL or use --search")

	// ErrInvalidSearchURL is returned for search URLs that are not absolute http(s) URLs.
	ErrInvalidSearchURL = errors.New("invalid search url: must be an absolute http or https url")

	// ErrInvalidRetries is returned when a retry budget is negative.
	ErrInvalidRetries = errors.New("invalid retries: must be non-negative")

	// ErrInvalidRetryDelay is returned when a backoff delay is not positive.
	ErrInvalidRetryDelay = errors.New("invalid retry delay: must be positive")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRate is returned when the request rate is negative.
	ErrInvalidRate = errors.New("invalid requests per second: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidNavigationDelay is returned when a navigation delay is negative.
	ErrInvalidNavigationDelay = errors.New("invalid navigation delay: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrUnknownStorage is returned for an unsupported storage driver.
	ErrUnknownStorage = errors.New("unknown storage driver: use sqlite, redis or memory")

	// ErrProxyURLRequired is returned when the proxy is enabled without a URL.
	ErrProxyURLRequired = errors.New("proxy enabled but no proxy url given: set --proxy or BIZCRAWL_PROXY_URL")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
