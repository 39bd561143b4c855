package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "torspider"

	// DefaultProxyAddress is the SOCKS port of a locally running Tor daemon.
	DefaultProxyAddress = "127.0.0.1:9050"

	// DefaultTimeout bounds a single fetch. Hidden services are slow; a
	// timed out fetch counts as a failed one.
	DefaultTimeout = 60 * time.Second

	// DefaultDepth follows the links of the seed page once.
	DefaultDepth = 1

	// DefaultWorkers is the number of domains crawled in parallel when
	// resuming from the database.
	DefaultWorkers = 5

	// DefaultUserAgent is the header of the Tor Browser, so requests blend in
	// with ordinary visitors.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 6.1; rv:52.0) Gecko/20100101 Firefox/52.0"

	// DefaultMaxBodySize limits how much of a response is read (5MB).
	DefaultMaxBodySize = 5 * 1024 * 1024

	// DefaultIPCheckURL echoes the caller's public address.
	DefaultIPCheckURL = "http://api.ipify.org/"

	// DefaultSummaryDir is where the flat-file summary is written.
	DefaultSummaryDir = "."

	// DefaultTorStartupTimeout bounds the bootstrap of the embedded daemon.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Config holds all options of a crawl run. It is built by NewConfig,
// overridden by CLI flags and passed down explicitly.
type Config struct {
	// Seed is the URL to start from. Empty means resume from the database.
	Seed string

	// ProxyAddress is the Tor SOCKS5 proxy in "host:port" format.
	// Ignored when UseEmbeddedTor is set.
	ProxyAddress string

	// Timeout bounds every individual fetch.
	Timeout time.Duration

	// Depth is the depth budget of each top-level crawl.
	Depth int

	// Workers bounds how many domains are crawled concurrently in resume mode.
	Workers int

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBodySize is the maximum number of body bytes read per response.
	MaxBodySize int64

	// IPCheckURL is the IP echo service used by the anonymity check.
	IPCheckURL string

	// SkipIPCheck disables the anonymity check. Only for testing against
	// local servers.
	SkipIPCheck bool

	// IncludeImages also follows <img src> targets as links.
	IncludeImages bool

	// DBDir is the directory of the graph database.
	// Defaults to the XDG data directory (~/.local/share/torspider on Linux).
	DBDir string

	// SummaryDir receives intlinks.txt, extlinks.txt, domains.txt and onions.txt.
	SummaryDir string

	// MarkdownSummary also writes summary.md to SummaryDir.
	MarkdownSummary bool

	// NoDefaultSeeds keeps a new database empty instead of seeding it with
	// well-known onion directories.
	NoDefaultSeeds bool

	// UseEmbeddedTor starts a private Tor daemon instead of using ProxyAddress.
	UseEmbeddedTor bool

	// TorStartupTimeout bounds the bootstrap of the embedded daemon.
	TorStartupTimeout time.Duration

	// Verbose enables debug logging.
	Verbose bool

	// JSONLog switches log output to JSON.
	JSONLog bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, .torspider is searched in the current and home directories.
	ConfigFilePath string

	// SiteConfigs holds the per-site settings loaded from the config file.
	SiteConfigs *File
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		ProxyAddress:      DefaultProxyAddress,
		Timeout:           DefaultTimeout,
		Depth:             DefaultDepth,
		Workers:           DefaultWorkers,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		IPCheckURL:        DefaultIPCheckURL,
		DBDir:             XDGDataDir(),
		SummaryDir:        DefaultSummaryDir,
		TorStartupTimeout: DefaultTorStartupTimeout,
	}
}

// XDGDataDir returns the XDG data directory of the application.
// On Linux: ~/.local/share/torspider
// On macOS: ~/Library/Application Support/torspider
// On Windows: %LOCALAPPDATA%\torspider
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory of the application.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Site returns the per-site settings for domain, or the zero value when no
// config file was loaded.
func (c *Config) Site(domain string) SiteConfig {
	if c.SiteConfigs == nil {
		return SiteConfig{}
	}
	return c.SiteConfigs.GetSiteConfig(domain)
}

// DepthFor returns the depth budget for domain, honouring a site override.
func (c *Config) DepthFor(domain string) int {
	if d := c.Site(domain).Depth; d > 0 {
		return d
	}
	return c.Depth
}

// Validate returns the first problem found in the configuration.
// It is called once after flag parsing, before any network activity.
func (c *Config) Validate() error {
	if !c.UseEmbeddedTor && c.ProxyAddress == "" {
		return ErrNoProxy
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Depth < 0 {
		return ErrInvalidDepth
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if !c.SkipIPCheck && c.IPCheckURL == "" {
		return ErrNoIPCheckURL
	}
	if c.DBDir == "" {
		return ErrNoDBDir
	}
	return nil
}
