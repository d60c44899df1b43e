// Package levels looks up metadata for the external levels that bounty
// requests are attached to. Only the name and creator are consumed.
package levels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Level is the narrow slice of level metadata the ledger records.
type Level struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

// Lookup resolves a level ID. An unknown level returns (nil, nil).
type Lookup interface {
	Lookup(ctx context.Context, levelID string) (*Level, error)
}

// HTTPClient fetches levels from a JSON service exposing
// GET {base}/levels/{id}.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient creates a client with a per-request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Lookup(ctx context.Context, levelID string) (*Level, error) {
	endpoint := c.base + "/levels/" + url.PathEscape(levelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build level request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup level %s: %w", levelID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("lookup level %s: unexpected status %d", levelID, resp.StatusCode)
	}

	var lvl Level
	if err := json.NewDecoder(resp.Body).Decode(&lvl); err != nil {
		return nil, fmt.Errorf("decode level %s: %w", levelID, err)
	}
	return &lvl, nil
}

// Static is an in-memory Lookup for tests and offline development.
type Static struct {
	mu     sync.RWMutex
	levels map[string]Level
	err    error
}

func NewStatic(levels map[string]Level) *Static {
	s := &Static{levels: make(map[string]Level, len(levels))}
	for id, l := range levels {
		s.levels[id] = l
	}
	return s
}

// Set adds or replaces a level.
func (s *Static) Set(id string, l Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[id] = l
}

// Fail makes every lookup return err; nil restores normal behaviour.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Lookup(_ context.Context, levelID string) (*Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	l, ok := s.levels[levelID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}
