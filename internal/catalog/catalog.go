package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"google.golang.org/genai"
)

// Capability tags used for selection.
const (
	CapabilityText  = "text"
	CapabilityImage = "image"
)

// Model is one entry of the live service catalog.
type Model struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name,omitempty"`
	SupportedActions []string `json:"supported_actions,omitempty"`
}

// CanGenerateContent reports whether the model accepts generateContent calls.
// An empty action list is treated as unknown and allowed.
func (m Model) CanGenerateContent() bool {
	return len(m.SupportedActions) == 0 || slices.Contains(m.SupportedActions, "generateContent")
}

// EmitsImages reports whether the model id advertises image output.
func (m Model) EmitsImages() bool {
	return strings.Contains(strings.ToLower(m.ID), "image")
}

// Lister enumerates available models.
type Lister interface {
	List(ctx context.Context) ([]Model, error)
}

// Selection is the pair of models chosen once per process. ImageModel may be empty.
type Selection struct {
	TextModel  string `json:"text_model"`
	ImageModel string `json:"image_model,omitempty"`
}

// ImageAvailable reports whether image synthesis can run.
func (s Selection) ImageAvailable() bool { return s.ImageModel != "" }

var preferredTextPrefixes = []string{"gemini-2.5-flash", "gemini-2.0-flash"}

// SelectByCapability returns the first model id matching the capability tag, or false.
func SelectByCapability(models []Model, tag string) (string, bool) {
	switch tag {
	case CapabilityText:
		for _, prefix := range preferredTextPrefixes {
			for _, m := range models {
				if strings.HasPrefix(m.ID, prefix) && !m.EmitsImages() && m.CanGenerateContent() {
					return m.ID, true
				}
			}
		}
		for _, m := range models {
			if m.CanGenerateContent() && !m.EmitsImages() {
				return m.ID, true
			}
		}
	case CapabilityImage:
		for _, m := range models {
			if m.EmitsImages() && m.CanGenerateContent() {
				return m.ID, true
			}
		}
	}
	return "", false
}

// Pins carry explicitly configured model ids. TextModel or ImageModel left empty means discover;
// ImageDisabled skips image selection entirely.
type Pins struct {
	TextModel     string
	ImageModel    string
	ImageDisabled bool
}

// Discover builds the process-wide selection. The catalog is only queried when a pin is missing.
func Discover(ctx context.Context, lister Lister, pins Pins) (Selection, error) {
	sel := Selection{TextModel: pins.TextModel}
	if !pins.ImageDisabled {
		sel.ImageModel = pins.ImageModel
	}
	needText := sel.TextModel == ""
	needImage := !pins.ImageDisabled && sel.ImageModel == ""
	if !needText && !needImage {
		return sel, nil
	}
	if lister == nil {
		return Selection{}, fmt.Errorf("catalog: no lister configured")
	}

	models, err := lister.List(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("catalog: list models: %w", err)
	}
	if needText {
		id, ok := SelectByCapability(models, CapabilityText)
		if !ok {
			return Selection{}, fmt.Errorf("catalog: no text-capable model among %d models", len(models))
		}
		sel.TextModel = id
	}
	if needImage {
		if id, ok := SelectByCapability(models, CapabilityImage); ok {
			sel.ImageModel = id
		}
	}
	return sel, nil
}

// GenAILister lists models through the genai SDK.
type GenAILister struct {
	client *genai.Client
}

// NewGenAILister constructs a lister backed by the Gemini API.
func NewGenAILister(ctx context.Context, apiKey string) (*GenAILister, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: create genai client: %w", err)
	}
	return &GenAILister{client: client}, nil
}

// List walks every page of the model listing.
func (l *GenAILister) List(ctx context.Context) ([]Model, error) {
	var out []Model
	for m, err := range l.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, Model{
			ID:               strings.TrimPrefix(m.Name, "models/"),
			DisplayName:      m.DisplayName,
			SupportedActions: m.SupportedActions,
		})
	}
	return out, nil
}
