package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNoText is returned when a reply carries no text segment at all.
var ErrNoText = errors.New("gemini: response contains no text segment")

// Blob is an inline binary attachment such as an encoded image.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Part is one ordered element of a multimodal request or reply.
type Part struct {
	Text   string
	Inline *Blob
}

// TextPart wraps a text segment.
func TextPart(text string) Part { return Part{Text: text} }

// ImagePart wraps an encoded image.
func ImagePart(mimeType string, data []byte) Part {
	return Part{Inline: &Blob{MIMEType: mimeType, Data: data}}
}

// Reply holds the segments of the first candidate.
type Reply struct {
	Segments     []Part
	FinishReason string
}

// FirstText returns the trimmed text of the first segment carrying text.
func (r Reply) FirstText() (string, bool) {
	for _, seg := range r.Segments {
		if trimmed := strings.TrimSpace(seg.Text); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

// Client sends one multimodal request and returns the reply.
type Client interface {
	Generate(ctx context.Context, model string, parts []Part) (Reply, error)
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.Status)
	}
	return fmt.Sprintf("gemini status %d: %s", e.Status, e.Message)
}

// GeminiClient wraps the Google Generative Language REST API.
type GeminiClient struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	tokenSource oauth2.TokenSource
}

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// NewGeminiClient constructs a client. Deadlines come from the caller's context, so the
// http.Client carries no timeout of its own.
func NewGeminiClient(apiKey, baseURL string, httpClient *http.Client, tokenSource oauth2.TokenSource) *GeminiClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GeminiClient{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      httpClient,
		tokenSource: tokenSource,
	}
}

type wireBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wirePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *wireBlob `json:"inline_data,omitempty"`
}

type replyPart struct {
	Text       string `json:"text"`
	InlineData *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

// Generate sends the parts, in order, as a single user turn and returns the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, model string, parts []Part) (Reply, error) {
	if len(parts) == 0 {
		return Reply{}, fmt.Errorf("gemini: empty request")
	}
	model = normalizeModel(model)
	if model == "" {
		return Reply{}, fmt.Errorf("gemini: missing model")
	}

	wire := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		if p.Inline != nil {
			wire = append(wire, wirePart{InlineData: &wireBlob{
				MIMEType: p.Inline.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Inline.Data),
			}})
			continue
		}
		wire = append(wire, wirePart{Text: p.Text})
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": wire},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal gemini payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token()
		if err != nil {
			return Reply{}, fmt.Errorf("gemini: fetch oauth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	} else {
		if strings.TrimSpace(c.apiKey) == "" {
			return Reply{}, fmt.Errorf("gemini: missing API key or service account credentials")
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("gemini perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return Reply{}, &APIError{Status: resp.StatusCode, Message: failure.Error.Message}
	}

	var completion struct {
		Candidates []struct {
			Content struct {
				Parts []replyPart `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return Reply{}, fmt.Errorf("gemini decode response: %w", err)
	}

	if len(completion.Candidates) == 0 {
		if reason := completion.PromptFeedback.BlockReason; reason != "" {
			return Reply{}, fmt.Errorf("gemini returned no candidates (blocked: %s)", reason)
		}
		return Reply{}, fmt.Errorf("gemini returned no candidates")
	}

	first := completion.Candidates[0]
	reply := Reply{FinishReason: first.FinishReason}
	for _, part := range first.Content.Parts {
		if part.InlineData != nil {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return Reply{}, fmt.Errorf("gemini decode inline data: %w", err)
			}
			reply.Segments = append(reply.Segments, ImagePart(part.InlineData.MIMEType, data))
			continue
		}
		reply.Segments = append(reply.Segments, TextPart(part.Text))
	}
	return reply, nil
}

func normalizeModel(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}
