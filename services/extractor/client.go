package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client talks to an external media-extraction sidecar. The sidecar wraps a
// full extractor (yt-dlp or similar) and is used when the in-process
// resolver cannot handle a query.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *CircuitBreaker
}

// TrackInfo is one playable item as reported by the sidecar.
type TrackInfo struct {
	Title         string   `json:"title"`
	Uploader      string   `json:"uploader,omitempty"`
	WebpageURL    string   `json:"webpage_url"`
	StreamURL     string   `json:"stream_url"`
	Duration      float64  `json:"duration,omitempty"`
	IsLive        bool     `json:"is_live,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	LoudnessDB    *float64 `json:"loudness_db,omitempty"`
	Extractor     string   `json:"extractor,omitempty"`
	PlaylistTitle string   `json:"playlist_title,omitempty"`
	PlaylistURL   string   `json:"playlist_url,omitempty"`
}

type resolveRequest struct {
	Query         string `json:"query"`
	PlaylistLimit int    `json:"playlist_limit,omitempty"`
	SplitChapters bool   `json:"split_chapters,omitempty"`
}

type serviceResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type resolveData struct {
	Tracks []TrackInfo `json:"tracks"`
}

// NewClient creates a client for the sidecar at baseURL.
func NewClient(baseURL string) *Client {
	httpClient := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 5,
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		breaker:    NewCircuitBreaker(DefaultCircuitBreakerConfig()),
	}
}

// Resolve asks the sidecar to expand a query into track descriptors. Calls
// go through the circuit breaker so a dead sidecar fails fast instead of
// stacking up timeouts.
func (c *Client) Resolve(ctx context.Context, query string, playlistLimit int, splitChapters bool) ([]TrackInfo, error) {
	var tracks []TrackInfo

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		result, err := c.doResolve(ctx, query, playlistLimit, splitChapters)
		if err != nil {
			return err
		}
		tracks = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

func (c *Client) doResolve(ctx context.Context, query string, playlistLimit int, splitChapters bool) ([]TrackInfo, error) {
	body, err := json.Marshal(resolveRequest{
		Query:         query,
		PlaylistLimit: playlistLimit,
		SplitChapters: splitChapters,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read resolve response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var sr serviceResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("parse resolve response: %w", err)
	}
	if !sr.Success {
		return nil, fmt.Errorf("extractor service error: %s", sr.Error)
	}

	var data resolveData
	if err := json.Unmarshal(sr.Data, &data); err != nil {
		return nil, fmt.Errorf("parse resolve payload: %w", err)
	}
	return data.Tracks, nil
}

// Healthy reports whether the circuit breaker currently admits requests.
func (c *Client) Healthy() bool {
	return c.breaker.State() != StateOpen
}
