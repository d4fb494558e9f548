package interfaces

import (
	"context"

	"github.com/ternarybob/graben/internal/models"
)

// SearchService is the search backend collaborator.
// The offline implementation produces deterministic results for tests.
type SearchService interface {
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}
