package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com"

// GeminiConfig holds the settings for the Gemini REST client.
type GeminiConfig struct {
	APIKey   string
	Model    string        // e.g. "gemini-2.0-flash-exp"
	Endpoint string        // override for testing; defaults to the public API
	Timeout  time.Duration // per-request timeout
}

// Gemini calls the Google Generative Language REST API to analyze product
// images.
type Gemini struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewGemini creates a Gemini client. The HTTP client timeout doubles as the
// provider-side deadline for a single attempt.
func NewGemini(cfg GeminiConfig, logger *slog.Logger) *Gemini {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Request/response shapes for the generateContent endpoint. Only the fields
// this client reads or writes are declared.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Analyze implements Provider. It performs exactly one HTTP call; the
// resilience layer owns retries.
func (g *Gemini) Analyze(ctx context.Context, image []byte, language string) (*Listing, error) {
	reqBody := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: buildPrompt(language)},
				{InlineData: &inlineData{
					MimeType: http.DetectContentType(image),
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &CallError{Class: FailureAPI, Message: "encoding request", Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Class: FailureAPI, Message: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// Header keeps the key out of URLs and access logs.
	req.Header.Set("X-Goog-Api-Key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, &CallError{Class: FailureMalformed, Message: "decoding response body", Err: err}
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, &CallError{Class: FailureMalformed, Message: "response contains no candidates"}
	}

	listing, err := parseListing(gr.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("product image analyzed",
		"language", language,
		"title_length", len(listing.Title),
		"tags", len(listing.Tags),
	)

	return listing, nil
}

// classifyTransportError maps an http.Client error onto the failure taxonomy.
// Timeouts (client timeout, context deadline) and network-level failures are
// both transient.
func classifyTransportError(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Class: FailureTimeout, Message: "request deadline exceeded", Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Class: FailureTimeout, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		// Caller abandoned the invocation; keep it out of the retryable
		// classes so the retry loop stops immediately.
		return &CallError{Class: FailureAPI, Message: "request cancelled", Err: err}
	}
	return &CallError{Class: FailureConnection, Message: "connecting to provider", Err: err}
}

// classifyStatus maps a non-200 response onto the failure taxonomy. The body
// is truncated into the message for diagnostics.
func classifyStatus(resp *http.Response) *CallError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("provider returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &CallError{Class: FailureRateLimited, Status: resp.StatusCode, Message: msg}
	case resp.StatusCode >= 500:
		return &CallError{Class: FailureOverloaded, Status: resp.StatusCode, Message: msg}
	default:
		return &CallError{Class: FailureAPI, Status: resp.StatusCode, Message: msg}
	}
}

// parseListing extracts the JSON listing from the model's text output.
// Models often wrap JSON in markdown code fences despite instructions.
func parseListing(text string) (*Listing, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw struct {
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &CallError{Class: FailureMalformed, Message: "response is not valid JSON", Err: err}
	}

	var missing []string
	if raw.Title == nil {
		missing = append(missing, "title")
	}
	if raw.Description == nil {
		missing = append(missing, "description")
	}
	if raw.Tags == nil {
		missing = append(missing, "tags")
	}
	if len(missing) > 0 {
		return nil, &CallError{
			Class:   FailureMalformed,
			Message: fmt.Sprintf("response missing required keys: %s", strings.Join(missing, ", ")),
		}
	}

	return &Listing{
		Title:       *raw.Title,
		Description: *raw.Description,
		Tags:        raw.Tags,
	}, nil
}
