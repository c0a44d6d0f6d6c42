// Package monitor implements the mailbox monitoring pipeline: scanning
// inboxes for listing notifications, extracting listing URLs, deduplicating
// against the processed-email ledger, and orchestrating per-URL analysis.
package monitor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	markdownImagePattern = regexp.MustCompile(`(?i)!\[.*?\]\((https://[^)]+\.(?:jpg|jpeg|png|webp))\)`)
	rawImagePattern      = regexp.MustCompile(`(?i)https://[^\s<>"']+\.(?:jpg|jpeg|png|webp)`)
)

// ExtractURLs pulls listing URLs for the allow-listed domains out of an email
// body. The body may be HTML or plain text; both passes always run, and an
// HTML parse failure never aborts extraction. Results are normalized (trimmed,
// one trailing slash stripped), http(s)-only, and deduplicated in first-seen
// order. Returns an empty slice when nothing matches.
func ExtractURLs(body string, domains []string) []string {
	urls := make([]string, 0)
	seen := make(map[string]bool)

	add := func(raw string) {
		u := strings.TrimSpace(raw)
		u = strings.TrimSuffix(u, "/")
		if u == "" || seen[u] {
			return
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	// Anchor hrefs from the HTML part
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if containsListingDomain(href, domains) {
				add(href)
			}
		})
	}

	// Plain-text scan; catches URLs sitting alone on their own line
	if re := listingURLPattern(domains); re != nil {
		for _, m := range re.FindAllString(body, -1) {
			add(m)
		}
	}

	return urls
}

func containsListingDomain(s string, domains []string) bool {
	lower := strings.ToLower(s)
	for _, d := range domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

func listingURLPattern(domains []string) *regexp.Regexp {
	if len(domains) == 0 {
		return nil
	}
	quoted := make([]string, len(domains))
	for i, d := range domains {
		quoted[i] = regexp.QuoteMeta(d)
	}
	return regexp.MustCompile(`(?i)https?://[^\s<>"']*(?:` + strings.Join(quoted, "|") + `)[^\s<>"']*`)
}

// ExtractImageURLs pulls up to max image URLs out of scraped listing content.
// Markdown image syntax is preferred; a raw URL scan over common raster
// extensions is the fallback. Deduplicated in first-seen order.
func ExtractImageURLs(content string, max int) []string {
	var candidates []string
	for _, m := range markdownImagePattern.FindAllStringSubmatch(content, -1) {
		candidates = append(candidates, m[1])
	}
	if len(candidates) == 0 {
		candidates = rawImagePattern.FindAllString(content, -1)
	}

	urls := make([]string, 0, max)
	seen := make(map[string]bool)
	for _, u := range candidates {
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) >= max {
			break
		}
	}
	return urls
}
