package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"regionkv/internal/storage"
)

const dialTimeout = 5 * time.Second

// Client pulls change pages from peers over HTTP. One client is shared
// by every peer; connections are pooled by the underlying transport.
type Client struct {
	httpc *http.Client
}

// NewClient creates a peer client. Individual fetches are bounded by
// the caller's context; the transport only bounds connection setup.
func NewClient() *Client {
	return &Client{
		httpc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: dialTimeout,
			},
		},
	}
}

// changesPage mirrors the change-feed response body.
type changesPage struct {
	Changes []storage.Change `json:"changes"`
	LastSeq uint64           `json:"last_seq"`
}

// FetchChanges asks a peer for its own changes after sinceSeq. The
// pull always sets origin_only so relayed changes are not re-relayed;
// each region is pulled from the region that originated its writes.
func (c *Client) FetchChanges(ctx context.Context, peerURL string, sinceSeq uint64, limit int) ([]storage.Change, uint64, error) {
	q := url.Values{}
	q.Set("since_seq", strconv.FormatUint(sinceSeq, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("origin_only", "true")
	endpoint := strings.TrimRight(peerURL, "/") + "/changes?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request for %s: %w", peerURL, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch changes from %s: %w", peerURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch changes from %s: unexpected status %d", peerURL, resp.StatusCode)
	}

	var page changesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, fmt.Errorf("decode changes from %s: %w", peerURL, err)
	}
	return page.Changes, page.LastSeq, nil
}
