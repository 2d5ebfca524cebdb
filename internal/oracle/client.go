package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"perception-core/internal/logger"
	"perception-core/internal/spatial"
	"perception-core/internal/vision"
)

// Client talks to the scene-geometry service that implements both oracle
// interfaces over HTTP.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient builds a client from ORACLE_URL / ORACLE_TIMEOUT_MS.
func NewClient() *Client {
	baseURL := os.Getenv("ORACLE_URL")
	if baseURL == "" {
		baseURL = "http://scene-oracle:8090"
		logger.Component("oracle").Warnf("ORACLE_URL not set, using default: %s", baseURL)
	}

	timeoutMs := 5000
	if t, err := strconv.Atoi(os.Getenv("ORACLE_TIMEOUT_MS")); err == nil && t > 0 {
		timeoutMs = t
	}

	return &Client{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// LightLevelAt queries the lighting oracle.
func (c *Client) LightLevelAt(ctx context.Context, sceneID string, p spatial.Point) (vision.LightLevel, error) {
	var result struct {
		Level vision.LightLevel `json:"level"`
	}
	err := c.post(ctx, "/v1/light-level", map[string]interface{}{
		"scene_id": sceneID,
		"position": p,
	}, &result)
	if err != nil {
		return "", err
	}
	switch result.Level {
	case vision.LightBright, vision.LightDim, vision.LightDarkness:
		return result.Level, nil
	default:
		return "", fmt.Errorf("oracle returned unknown light level %q", result.Level)
	}
}

// HasLineOfSight queries the occlusion oracle.
func (c *Client) HasLineOfSight(ctx context.Context, sceneID string, a, b spatial.Point) (bool, error) {
	var result struct {
		Visible bool `json:"visible"`
	}
	err := c.post(ctx, "/v1/line-of-sight", map[string]interface{}{
		"scene_id": sceneID,
		"from":     a,
		"to":       b,
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Visible, nil
}

// CoverBetween queries the occlusion oracle for the cover the target at b
// enjoys against an observer at a.
func (c *Client) CoverBetween(ctx context.Context, sceneID string, a, b spatial.Point) (vision.CoverState, error) {
	var result struct {
		Cover vision.CoverState `json:"cover"`
	}
	err := c.post(ctx, "/v1/cover", map[string]interface{}{
		"scene_id": sceneID,
		"from":     a,
		"to":       b,
	}, &result)
	if err != nil {
		return "", err
	}
	if !result.Cover.Valid() {
		return "", fmt.Errorf("oracle returned unknown cover state %q", result.Cover)
	}
	return result.Cover, nil
}

// post sends a JSON request with one bounded re-attempt on transport errors
// and 5xx responses.
func (c *Client) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal oracle request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build oracle request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("oracle %s: status %d", path, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("oracle %s: status %d", path, resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode oracle response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("oracle %s failed after retry: %w", path, lastErr)
}
