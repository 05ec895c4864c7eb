// Package finder is a client for the company discovery service, which runs
// search-agent queries against public map and registry sources and returns
// structured company candidates.
package finder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Company is one candidate returned by the discovery service. Fields the
// service could not determine are empty.
type Company struct {
	INN          string   `json:"inn"`
	OGRN         string   `json:"ogrn,omitempty"`
	ShortName    string   `json:"short_name,omitempty"`
	FullName     string   `json:"full_name,omitempty"`
	LegalAddress string   `json:"legal_address,omitempty"`
	Region       string   `json:"region,omitempty"`
	Phones       []string `json:"phones,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	Website      string   `json:"website,omitempty"`
	OKVEDMain    string   `json:"okved_main,omitempty"`
	Category     string   `json:"category,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	Companies []Company `json:"companies"`
}

// Client queries the discovery service.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Company, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient creates a discovery service client. The token is sent as a
// bearer credential on every request.
func NewClient(endpoint, token string, opts ...Option) Client {
	c := &httpClient{
		endpoint: endpoint,
		token:    token,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search runs one discovery query. Agent searches are slow; callers should
// pass a context with a deadline.
func (c *httpClient) Search(ctx context.Context, query string, maxResults int) ([]Company, error) {
	body, err := json.Marshal(SearchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, eris.Wrap(err, "finder: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "finder: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "finder: search %q", query)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("finder: search %q: status %d: %s", query, resp.StatusCode, snippet)
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrapf(err, "finder: decode response for %q", query)
	}
	return out.Companies, nil
}
