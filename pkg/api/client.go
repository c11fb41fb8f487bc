// Package api provides the HTTP client for the geoquest backend
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/logx"
)

// DefaultTimeout bounds every backend request.
const DefaultTimeout = 15 * time.Second

// Quiz describes a quiz the backend reports as newly discoverable
type Quiz struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// SocialResponse is the backend's answer to a social position update
type SocialResponse struct {
	IsVisible   bool         `json:"isVisible"`
	InSafePlace bool         `json:"inSafePlace"`
	NearbyUsers []NearbyUser `json:"nearbyUsers"`
}

// NearbyUser is another player visible near the reported position
type NearbyUser struct {
	UserID    string  `json:"userId"`
	Username  string  `json:"username,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	DistanceM float64 `json:"distance,omitempty"`
}

// Client talks to the geoquest backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logx.Logger
}

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string, logger *logx.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
}

// checkBatchRequest is the discovery-check payload
type checkBatchRequest struct {
	UserID    string               `json:"userId"`
	Positions []pkg.LocationSample `json:"positions"`
	Radius    float64              `json:"radius"`
}

// checkBatchResponse mirrors the backend's discovery-check answer
type checkBatchResponse struct {
	DiscoveredQuiz []Quiz `json:"discoveredQuiz"`
}

// CheckBatch posts the buffered positions in one batch and returns the
// quizzes that became discoverable within the given radius.
func (c *Client) CheckBatch(ctx context.Context, user pkg.UserContext, positions []pkg.LocationSample, radiusM float64) ([]Quiz, error) {
	body := checkBatchRequest{
		UserID:    user.UserID,
		Positions: positions,
		Radius:    radiusM,
	}

	var resp checkBatchResponse
	if err := c.post(ctx, "/api/quiz/check-batch", user.AuthToken, body, &resp); err != nil {
		return nil, err
	}
	return resp.DiscoveredQuiz, nil
}

// socialPositionRequest is the social position update payload
type socialPositionRequest struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
}

// UpdateSocialPosition reports the user's position to the social endpoint
// and returns visibility plus nearby players.
func (c *Client) UpdateSocialPosition(ctx context.Context, user pkg.UserContext, latitude, longitude, speedKmh float64) (*SocialResponse, error) {
	body := socialPositionRequest{
		UserID:    user.UserID,
		Latitude:  latitude,
		Longitude: longitude,
		Speed:     speedKmh,
	}

	var resp SocialResponse
	if err := c.post(ctx, "/users/location", user.AuthToken, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends a JSON body and decodes a JSON response. Any transport error,
// timeout or non-2xx status is reported as a pkg.ErrNetworkFailure.
func (c *Client) post(ctx context.Context, path, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", pkg.ErrNetworkFailure, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s: status %d: %s", pkg.ErrNetworkFailure, path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", pkg.ErrNetworkFailure, path, err)
	}
	return nil
}
