package release

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r := NewResolver()
	r.APIURL = srv.URL
	r.HTTPClient = srv.Client()
	return r
}

func TestLatestURL_FindsAsset(t *testing.T) {
	var path string
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "tag_name": "v0.3.1",
  "assets": [
    {"name": "saorsa-node-cli-macos-arm64.tar.gz", "browser_download_url": "https://example.com/mac.tar.gz"},
    {"name": "saorsa-node-cli-linux-x64.tar.gz", "browser_download_url": "https://example.com/linux.tar.gz"}
  ]
}`))
	})

	url, err := r.LatestURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/linux.tar.gz", url)
	assert.Equal(t, "/repos/saorsa-labs/saorsa-node/releases/latest", path)
}

func TestLatestURL_AssetMissing(t *testing.T) {
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name": "v0.3.1", "assets": []}`))
	})

	_, err := r.LatestURL(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssetNotFound))
	assert.Contains(t, err.Error(), "saorsa-node-cli-linux-x64.tar.gz")
}

func TestLatestURL_HTTPError(t *testing.T) {
	calls := 0
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		http.Error(w, "rate limited", http.StatusForbidden)
	})

	_, err := r.LatestURL(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAssetNotFound))
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 1, calls, "no retry expected")
}

func TestLatestURL_NetworkError(t *testing.T) {
	r := NewResolver()
	r.APIURL = "http://127.0.0.1:1"

	_, err := r.LatestURL(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch latest release")
}
