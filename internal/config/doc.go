// Package config holds the run configuration of the crawler and the optional
// per-site YAML file (.torspider) with cookies, headers, depth overrides and
// extra seeds.
package config
