package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
)

func TestGetReturnsBodyAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := New(Options{Timeout: 5 * time.Second, MaxConcurrent: 2}, common.GetLogger())

	result, err := client.Get(context.Background(), server.URL+"/data")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "application/json", result.ContentType)
	assert.JSONEq(t, `{"ok": true}`, string(result.Body))
}

func TestHeadReadsNoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer server.Close()

	client := New(Options{Timeout: 5 * time.Second}, common.GetLogger())

	result, err := client.Head(context.Background(), server.URL+"/file.pdf")
	require.NoError(t, err)
	assert.Empty(t, result.Body)
	assert.Equal(t, "application/pdf", result.ContentType)
}

func TestPerHostPolitenessDelay(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	delay := 50 * time.Millisecond
	client := New(Options{Timeout: 5 * time.Second, RequestDelay: delay, MaxConcurrent: 4}, common.GetLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), server.URL+"/page")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// Three requests against one host need at least two delay windows
	assert.GreaterOrEqual(t, elapsed, 2*delay)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRobotsDisallowBlocksFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(Options{Timeout: 5 * time.Second, RespectRobots: true}, common.GetLogger())

	_, err := client.Get(context.Background(), server.URL+"/private/secret.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robots.txt")

	_, err = client.Get(context.Background(), server.URL+"/public.pdf")
	assert.NoError(t, err)
}

func TestContextCancellationAborts(t *testing.T) {
	client := New(Options{Timeout: 5 * time.Second, RequestDelay: time.Hour}, common.GetLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	// First fetch consumes the burst; the second must wait the full delay
	_, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, server.URL)
	assert.Error(t, err)
}
