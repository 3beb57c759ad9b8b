package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var apiURL string

func init() {
	defaultURL := os.Getenv("BRIDGE_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "relayer API base URL")
}

// apiClient talks to a running relayer. The bearer token comes from the
// BRIDGE_API_TOKEN environment variable; mint one with `bridgectl token`.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base:  strings.TrimRight(apiURL, "/"),
		token: os.Getenv("BRIDGE_API_TOKEN"),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(path string) (json.RawMessage, error) {
	return c.do(http.MethodGet, path, nil, "")
}

func (c *apiClient) post(path string, body interface{}, totpCode string) (json.RawMessage, error) {
	return c.do(http.MethodPost, path, body, totpCode)
}

func (c *apiClient) do(method, path string, body interface{}, totpCode string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if totpCode != "" {
		req.Header.Set("X-TOTP-Code", totpCode)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%s (%d %s)", apiErr.Message, resp.StatusCode, apiErr.Code)
		}
		return nil, fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}

	return raw, nil
}

// printJSON re-indents an API response for the terminal
func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
