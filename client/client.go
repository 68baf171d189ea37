// Package client implements the typed HTTP client for the marketplace
// backend: item listings, chat room lookup and paginated message history.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client is a marketplace API client. All methods honor context
// cancellation; a canceled fetch never mutates caller state.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	log zerolog.Logger
}

// New creates a client for the given base URL and bearer token.
func New(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "client").Logger(),
	}
}

// doRequest performs a request and decodes the JSON response into out.
// Non-2xx statuses become a FetchError; an undecodable success body becomes
// a MalformedResponseError.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		c.log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return &FetchError{Path: path, Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &MalformedResponseError{Path: path, Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodPost, path, data, out)
}
