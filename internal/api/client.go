// Package api fetches relay server credentials over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"omegartc/native/internal/config"
)

const defaultTimeout = 10 * time.Second

type iceServersResponse struct {
	ICEServers []config.ICEServer `json:"iceServers"`
}

// Client fetches ICE server lists from a credentials endpoint.
type Client struct {
	http *http.Client
}

// NewClient creates an API client. A nil httpClient uses a client with a
// 10 second timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{http: httpClient}
}

// FetchICEServers calls url with token as a bearer credential and returns
// the servers it lists.
func (c *Client) FetchICEServers(ctx context.Context, url, token string) ([]config.ICEServer, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var iceResp iceServersResponse
	if err := json.Unmarshal(respBody, &iceResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	servers := iceResp.ICEServers[:0]
	for _, s := range iceResp.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("response lists no ice servers")
	}
	return servers, nil
}
