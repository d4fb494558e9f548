package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSearchIsDeterministic(t *testing.T) {
	s := NewMockSearchService()

	first, err := s.Search(context.Background(), "example-dno netzentgelte 2024 pdf", 5)
	require.NoError(t, err)
	second, err := s.Search(context.Background(), "example-dno netzentgelte 2024 pdf", 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NotEmpty(t, first)
	for _, r := range first {
		assert.NotEmpty(t, r.URL)
		assert.NotEmpty(t, r.Title)
		assert.Greater(t, r.Relevance, 0.0)
	}
}

func TestMockSearchHonorsLimit(t *testing.T) {
	s := NewMockSearchService()

	results, err := s.Search(context.Background(), "example-dno", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
