package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"lehengaTryOn/internal/llm"
)

// ErrNoImage is returned when a response carries no usable image segment.
var ErrNoImage = errors.New("vision: response contains no image")

// Fixed render settings for every try-on image.
const (
	TargetWidth  = 2048
	TargetHeight = 2048
	AspectRatio  = "1:1"
	ImageSize    = "2K"
)

// ImageRequest describes one render.
type ImageRequest struct {
	Instruction string
	References  []llm.Blob
	AspectRatio string
	Size        string
	Width       int
	Height      int
}

// NewImageRequest applies the fixed square 2K configuration.
func NewImageRequest(instruction string, references []llm.Blob) ImageRequest {
	return ImageRequest{
		Instruction: instruction,
		References:  references,
		AspectRatio: AspectRatio,
		Size:        ImageSize,
		Width:       TargetWidth,
		Height:      TargetHeight,
	}
}

// ImageGenerator renders a try-on image from an instruction.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (ImagePayload, error)
	Model() string
}

// ProviderError keeps the provider's own explanation next to the failure.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// GeminiImageGenerator renders via Gemini image outputs.
type GeminiImageGenerator struct {
	client *genai.Client
	model  string
}

// GeminiImageConfig configures the genai client.
type GeminiImageConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewGeminiImageGenerator constructs a generator able to request inline images.
func NewGeminiImageGenerator(ctx context.Context, cfg GeminiImageConfig) (*GeminiImageGenerator, error) {
	model := strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	if model == "" {
		return nil, fmt.Errorf("vision: image model is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("vision: api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("vision: create genai client: %w", err)
	}
	return &GeminiImageGenerator{client: client, model: model}, nil
}

// Model returns the configured model id.
func (g *GeminiImageGenerator) Model() string { return g.model }

// Generate requests one image. The instruction goes first, then any re-attached references.
func (g *GeminiImageGenerator) Generate(ctx context.Context, req ImageRequest) (ImagePayload, error) {
	if g == nil || g.client == nil {
		return ImagePayload{}, fmt.Errorf("vision: image generator unavailable")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return ImagePayload{}, fmt.Errorf("vision: empty instruction")
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Instruction)}
	for _, ref := range req.References {
		parts = append(parts, genai.NewPartFromBytes(ref.Data, ref.MIMEType))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig: &genai.ImageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.Size,
			},
		},
	)
	if err != nil {
		return ImagePayload{}, fmt.Errorf("vision: render failed: %w", err)
	}
	return payloadFromResponse(resp)
}

func payloadFromResponse(resp *genai.GenerateContentResponse) (ImagePayload, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		msg := ""
		if resp != nil && resp.PromptFeedback != nil {
			msg = strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage)
		}
		return ImagePayload{}, &ProviderError{Message: msg, Err: ErrNoImage}
	}

	var texts []string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			if m := strings.TrimSpace(candidate.FinishMessage); m != "" {
				texts = append(texts, m)
			}
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return Classify(part.InlineData.Data, part.InlineData.MIMEType)
			}
			if t := strings.TrimSpace(part.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if m := strings.TrimSpace(candidate.FinishMessage); m != "" {
			texts = append(texts, m)
		}
	}
	return ImagePayload{}, &ProviderError{Message: strings.Join(texts, " "), Err: ErrNoImage}
}
