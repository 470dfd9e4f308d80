// Package release looks up the download URL of the latest node binary release.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultAPIURL = "https://api.github.com"
	DefaultRepo   = "saorsa-labs/saorsa-node"
	// DefaultAsset is the Linux x86_64 build, the only target the VMs run.
	DefaultAsset = "saorsa-node-cli-linux-x64.tar.gz"
)

// ErrAssetNotFound is returned when the latest release has no asset with the expected name.
var ErrAssetNotFound = errors.New("release asset not found")

// Resolver queries a GitHub-compatible releases API.
type Resolver struct {
	APIURL     string
	Repo       string
	Asset      string
	HTTPClient *http.Client
}

// NewResolver returns a resolver for the default repository and asset.
func NewResolver() *Resolver {
	return &Resolver{
		APIURL:     DefaultAPIURL,
		Repo:       DefaultRepo,
		Asset:      DefaultAsset,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type latestRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// LatestURL returns the download URL of the configured asset in the latest
// release. Network and HTTP errors are returned as-is; there is no retry.
func (r *Resolver) LatestURL(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(r.APIURL, "/"), r.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("fetch latest release: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var rel latestRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("decode latest release: %w", err)
	}
	for _, a := range rel.Assets {
		if a.Name == r.Asset {
			log.Debug().Str("tag", rel.TagName).Str("asset", a.Name).Msg("Resolved release asset")
			return a.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("could not find %s in latest release %s of %s: %w", r.Asset, rel.TagName, r.Repo, ErrAssetNotFound)
}
