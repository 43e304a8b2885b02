package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultModel is used when a request does not name one.
	DefaultModel = "gemini-2.5-flash"
)

// APIError is the structured error body returned by the generation endpoint.
type APIError struct {
	Code           int    `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	Status         string `json:"status,omitempty"`
	HTTPStatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

type errorResponse struct {
	Error *APIError `json:"error,omitempty"`
}

// GeminiClient calls the generateContent endpoint of the hosted model
// service. Requests are single-shot; transport or decode failures surface
// directly to the caller.
type GeminiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// GeminiOption customizes client construction.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the service endpoint. Intended for tests.
func WithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(c *GeminiClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewGeminiClient constructs a client authenticated by API key.
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Generator = (*GeminiClient)(nil)

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

// Generate performs one generateContent round trip and returns the first
// candidate's concatenated text.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("generation API key is not configured")
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	body, err := json.Marshal(generateContentRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var errResp errorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == nil {
			return "", fmt.Errorf("bad status: %d, body: %s", resp.StatusCode, string(raw))
		}
		errResp.Error.HTTPStatusCode = resp.StatusCode
		return "", errResp.Error
	}

	var decoded generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(decoded.Candidates) == 0 {
		return "", fmt.Errorf("completion contained no candidates")
	}
	var text bytes.Buffer
	for _, p := range decoded.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}
