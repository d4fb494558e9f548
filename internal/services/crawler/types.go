package crawler

import (
	"time"

	"github.com/ternarybob/graben/internal/models"
)

// URLQueueItem represents a URL in the crawl queue
type URLQueueItem struct {
	URL       string                    `json:"url"`
	Strategy  models.NavigationStrategy `json:"strategy"`
	Depth     int                       `json:"depth"`
	ParentURL string                    `json:"parent_url,omitempty"`
	Priority  int                       `json:"priority"` // Lower number = higher priority
	AddedAt   time.Time                 `json:"added_at"`
}

// linkSelectors maps each navigation strategy to its CSS selector family.
// ArchiveExploration matches by substring instead (see archiveLink).
var linkSelectors = map[models.NavigationStrategy][]string{
	models.NavBreadcrumb: {
		`nav[aria-label*="breadcrumb"] a`,
		`.breadcrumb a`,
		`.breadcrumbs a`,
		`ol.breadcrumb a`,
	},
	models.NavPagination: {
		`.pagination a`,
		`a[rel="next"]`,
		`.pager a`,
		`nav.pagination a`,
	},
	models.NavMenuTraversal: {
		`nav a`,
		`header a`,
		`.menu a`,
		`.navigation a`,
	},
	models.NavSearchDriven: {
		`.search-results a`,
		`.results a`,
	},
	models.NavFormSubmission: {
		`form[action]`,
	},
}

// archiveMarkers are the substrings that qualify a link for archive exploration.
var archiveMarkers = []string{"archive", "archiv", "download", ".pdf"}
