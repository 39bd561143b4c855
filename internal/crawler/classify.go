package crawler

import (
	"sort"
	"strings"

	"github.com/nao1215/torspider/internal/model"
)

// OnionMarker is the literal that identifies a domain in the onion namespace.
const OnionMarker = ".onion"

// GetDomain returns the authority component of a link.
//
// The link is split on "/", scheme tokens ("http:", "https:") and empty
// segments are dropped and the first remaining segment is returned in
// canonical form. A link with no usable segment yields "".
func GetDomain(link string) string {
	for _, segment := range strings.Split(link, "/") {
		switch strings.ToLower(segment) {
		case "", "http:", "https:":
			continue
		}
		return model.CanonicalDomain(segment)
	}
	return ""
}

// Classification is the result of sorting a page's links.
type Classification struct {
	// Internal holds absolute links on the reference domain.
	Internal []string

	// External holds absolute links to other domains.
	External []string
}

// Classify partitions links into internal and external sets relative to
// referenceDomain.
//
//   - "/path" is rewritten to {scheme}://{referenceDomain}/path and is internal.
//     The scheme is the one of referenceURL.
//   - "//host/path" borrows the scheme of referenceURL and is classified by host.
//   - "http://" and "https://" links are internal when their domain equals
//     referenceDomain and external otherwise.
//   - Everything else (relative paths, mailto:, javascript:, fragments) is
//     dropped: it cannot add an edge to the domain graph.
func Classify(links []string, referenceDomain, referenceURL string) Classification {
	referenceDomain = model.CanonicalDomain(referenceDomain)
	scheme := schemeOf(referenceURL)

	internal := make(map[string]struct{})
	external := make(map[string]struct{})

	for _, link := range links {
		link = strings.TrimSpace(link)
		lower := strings.ToLower(link)

		switch {
		case strings.HasPrefix(link, "//"):
			absolute := scheme + ":" + link
			if GetDomain(absolute) == referenceDomain {
				internal[absolute] = struct{}{}
			} else if GetDomain(absolute) != "" {
				external[absolute] = struct{}{}
			}

		case strings.HasPrefix(link, "/"):
			internal[scheme+"://"+referenceDomain+link] = struct{}{}

		case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
			domain := GetDomain(link)
			switch domain {
			case "":
			case referenceDomain:
				internal[link] = struct{}{}
			default:
				external[link] = struct{}{}
			}
		}
	}

	return Classification{
		Internal: sortedKeys(internal),
		External: sortedKeys(external),
	}
}

// GetUniqueDomains maps GetDomain over links and deduplicates the result.
func GetUniqueDomains(links []string) []string {
	set := make(map[string]struct{}, len(links))
	for _, link := range links {
		if domain := GetDomain(link); domain != "" {
			set[domain] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// GetOnionDomains keeps the domains that belong to the onion namespace.
func GetOnionDomains(domains []string) []string {
	onions := make([]string, 0, len(domains))
	for _, domain := range domains {
		if IsOnionDomain(domain) {
			onions = append(onions, domain)
		}
	}
	sort.Strings(onions)
	return onions
}

// IsOnionDomain reports whether domain contains the onion marker.
func IsOnionDomain(domain string) bool {
	return strings.Contains(strings.ToLower(domain), OnionMarker)
}

// schemeOf returns "https" for https URLs and "http" for everything else.
func schemeOf(rawURL string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(rawURL)), "https://") {
		return "https"
	}
	return "http"
}
