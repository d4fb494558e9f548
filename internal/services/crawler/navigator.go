package crawler

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/models"
)

var yearLinkRe = regexp.MustCompile(`20[0-3][0-9]`)

// Navigator extracts links from fetched pages according to the active
// navigation strategy and records the navigation history.
type Navigator struct {
	mu      sync.Mutex
	history []models.NavigationStep
	logger  arbor.ILogger
}

// NewNavigator creates a navigator.
func NewNavigator(logger arbor.ILogger) *Navigator {
	return &Navigator{logger: logger}
}

// ExtractLinks applies the strategy's selector family to the page and returns
// absolute URLs. Form submission enqueues only the action URL; forms are
// never auto-filled.
func (n *Navigator) ExtractLinks(pageURL string, body []byte, strategy models.NavigationStrategy) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		n.logger.Debug().Str("url", pageURL).Err(err).Msg("Link extraction skipped: unparseable page")
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	add := func(href string) {
		abs := resolveURL(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	}

	switch strategy {
	case models.NavArchiveExploration:
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			text := strings.ToLower(sel.Text())
			if archiveLink(strings.ToLower(href), text) {
				add(href)
			}
		})
	case models.NavFormSubmission:
		doc.Find(`form[action]`).Each(func(_ int, sel *goquery.Selection) {
			if action, ok := sel.Attr("action"); ok {
				add(action)
			}
		})
	default:
		for _, selector := range linkSelectors[strategy] {
			doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
				if href, ok := sel.Attr("href"); ok {
					add(href)
				}
			})
		}
	}

	n.record(models.NavigationStep{
		StepType: strategy,
		URL:      pageURL,
		Action:   "extract_links",
	})

	return links
}

// RecordVisit appends a plain visit step to the history.
func (n *Navigator) RecordVisit(pageURL string, strategy models.NavigationStrategy) {
	n.record(models.NavigationStep{
		StepType: strategy,
		URL:      pageURL,
		Action:   "visit",
	})
}

// History returns a copy of the navigation history in commit order.
func (n *Navigator) History() []models.NavigationStep {
	n.mu.Lock()
	defer n.mu.Unlock()
	history := make([]models.NavigationStep, len(n.history))
	copy(history, n.history)
	return history
}

// record appends a step, stamping it under the lock so history stays in
// commit order across concurrent navigation styles.
func (n *Navigator) record(step models.NavigationStep) {
	n.mu.Lock()
	defer n.mu.Unlock()
	step.Timestamp = time.Now().UTC()
	n.history = append(n.history, step)
}

// archiveLink qualifies a link for archive exploration: archive markers,
// four-digit years, download hints or .pdf anywhere in href or text.
func archiveLink(href, text string) bool {
	for _, marker := range archiveMarkers {
		if strings.Contains(href, marker) || strings.Contains(text, marker) {
			return true
		}
	}
	return yearLinkRe.MatchString(href) || yearLinkRe.MatchString(text)
}

// resolveURL makes href absolute against base; non-http(s) schemes are dropped.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "tel:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// domainAllowed applies the job's allow/deny domain sets.
func domainAllowed(rawURL string, constraints models.CrawlConstraints) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)

	for _, blocked := range constraints.BlockedDomains {
		if host == strings.ToLower(blocked) || strings.HasSuffix(host, "."+strings.ToLower(blocked)) {
			return false
		}
	}
	if len(constraints.AllowedDomains) == 0 {
		return true
	}
	for _, allowed := range constraints.AllowedDomains {
		if host == strings.ToLower(allowed) || strings.HasSuffix(host, "."+strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}
