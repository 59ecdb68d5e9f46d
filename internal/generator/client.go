// Package generator calls the external bundle generator: prompt in,
// HTML/CSS/JS bundle out. The generator is an opaque collaborator; nothing
// here knows or cares how the bundle is produced.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antonets/toolbridge/internal/shell"
)

// Client talks to a generator endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // generation is slow
		},
	}
}

type generateRequest struct {
	Prompt   string        `json:"prompt"`
	Previous *shell.Bundle `json:"previous,omitempty"`
}

// Generate produces a bundle for prompt. Pass the previous bundle when
// iterating on an existing tool; nil for a fresh one.
func (c *Client) Generate(ctx context.Context, prompt string, previous *shell.Bundle) (shell.Bundle, error) {
	if c.baseURL == "" {
		return shell.Bundle{}, fmt.Errorf("generator not configured: set generator.base_url")
	}

	body, err := json.Marshal(generateRequest{Prompt: prompt, Previous: previous})
	if err != nil {
		return shell.Bundle{}, fmt.Errorf("marshalling generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return shell.Bundle{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shell.Bundle{}, fmt.Errorf("calling generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return shell.Bundle{}, fmt.Errorf("generator returned %d: %s", resp.StatusCode, string(data))
	}

	var bundle shell.Bundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return shell.Bundle{}, fmt.Errorf("decoding generator response: %w", err)
	}
	if bundle.HTML == "" && bundle.JS == "" {
		return shell.Bundle{}, fmt.Errorf("generator returned an empty bundle")
	}
	return bundle, nil
}
