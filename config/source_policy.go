package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SourcePolicyConfig restricts which hosts may appear in search context.
// Entries match the host and its subdomains.
type SourcePolicyConfig struct {
	Allow     []string `mapstructure:"allow"`
	Block     []string `mapstructure:"block"`
	SkipFetch []string `mapstructure:"skip_fetch"` // paywalled or hostile to scraping
}

// Normalize cleans entries and removes duplicates.
func (c SourcePolicyConfig) Normalize() SourcePolicyConfig {
	norm := c
	norm.Allow = sanitizeDomainList(norm.Allow)
	norm.Block = sanitizeDomainList(norm.Block)
	norm.SkipFetch = sanitizeDomainList(norm.SkipFetch)
	return norm
}

// Validate rejects hosts listed as both allowed and blocked.
func (c SourcePolicyConfig) Validate() error {
	norm := c.Normalize()
	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	for _, host := range norm.Block {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("source policy conflict: host %q present in both allow and block lists", host)
		}
	}
	return nil
}

// Permits reports whether results from rawURL may be used. An empty allow
// list permits every host that is not blocked.
func (c SourcePolicyConfig) Permits(rawURL string) bool {
	host := HostOf(rawURL)
	if host == "" {
		return len(c.Allow) == 0
	}
	if matchesAny(host, c.Block) {
		return false
	}
	return len(c.Allow) == 0 || matchesAny(host, c.Allow)
}

// Fetchable reports whether the page behind rawURL may be downloaded.
func (c SourcePolicyConfig) Fetchable(rawURL string) bool {
	return !matchesAny(HostOf(rawURL), c.SkipFetch)
}

// HostOf returns the lower-cased host of rawURL without a www. prefix.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return normalizeHost(u.Hostname())
}

func matchesAny(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		}
	}
	return strings.TrimPrefix(value, "www.")
}
