package config

import "maps"

// SiteConfig holds settings for a single domain.
type SiteConfig struct {
	// Cookie is sent with every request to the site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers for requests to the site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the global depth budget. Zero means no override.
	Depth int `yaml:"depth,omitempty"`
}

// File is the structure of the .torspider configuration file.
type File struct {
	// Seeds are crawled in order when no seed is given on the command line
	// and before resuming from the database.
	Seeds []string `yaml:"seeds,omitempty"`

	// Sites maps domains (e.g. "example.onion") to their settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every site unless overridden in Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig merges the settings for domain over the defaults.
func (cf *File) GetSiteConfig(domain string) SiteConfig {
	result := cf.Defaults
	if len(cf.Defaults.Headers) > 0 {
		result.Headers = maps.Clone(cf.Defaults.Headers)
	}

	site, ok := cf.Sites[domain]
	if !ok {
		return result
	}

	if site.Cookie != "" {
		result.Cookie = site.Cookie
	}
	if site.Depth != 0 {
		result.Depth = site.Depth
	}
	if len(site.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(site.Headers))
		}
		maps.Copy(result.Headers, site.Headers)
	}
	return result
}
