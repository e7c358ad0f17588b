// Package llm calls the Gemini generateContent endpoint and turns its
// loosely shaped JSON replies into typed decisions.
//
// Invoke only returns an error for transport failures (network errors,
// timeouts, unreadable bodies). Those wrap ErrTransport and must abort the
// run. Every other failure, such as a non-200 status or malformed JSON,
// yields an empty result and a nil error.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

// ErrTransport marks a failure to reach the model endpoint.
var ErrTransport = errors.New("llm transport failure")

// DefaultBaseURL is the public Gemini models endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Options configure a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client is a Gemini gateway. It never retries.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *log.Logger
}

// New creates a Client.
func New(opts Options, logger *log.Logger) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{baseURL: base, apiKey: opts.APIKey, http: hc, logger: logger.WithPrefix("llm")}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"response_mime_type"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// Invoke sends one generateContent call combining both prompts and returns
// the reply as a map from local id to raw JSON value.
func (c *Client) Invoke(ctx context.Context, model, systemPrompt, userPrompt string) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: systemPrompt + "\n\n" + userPrompt}}}},
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling %s: %w", ErrTransport, model, redact(err, c.apiKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrTransport, model, err)
	}
	c.logger.Debug("gemini raw response", "model", model, "status", resp.StatusCode, "body", string(respBody))

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("gemini returned an error status", "model", model, "status", resp.StatusCode, "body", string(respBody))
		return map[string]json.RawMessage{}, nil
	}

	text := gjson.GetBytes(respBody, "candidates.0.content.parts.0.text")
	if !text.Exists() || text.Type != gjson.String {
		c.logger.Warn("invalid response structure from gemini", "model", model, "body", string(respBody))
		return map[string]json.RawMessage{}, nil
	}

	parsed, err := decodeReply(text.Str)
	if err != nil {
		c.logger.Warn("could not parse gemini reply", "model", model, "error", err, "text", text.Str)
		return map[string]json.RawMessage{}, nil
	}
	return parsed.flatten(), nil
}

// redact strips the API key from errors that echo the request URL.
func redact(err error, key string) error {
	msg := err.Error()
	if key == "" || !strings.Contains(msg, url.QueryEscape(key)) && !strings.Contains(msg, key) {
		return err
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(key), "REDACTED")
	return errors.New(strings.ReplaceAll(msg, key, "REDACTED"))
}
