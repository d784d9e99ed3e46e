package vision

import (
	"context"
	"fmt"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// VertexImagen renders through Vertex AI Imagen. Predictions come back as base64 text.
type VertexImagen struct {
	projectID          string
	location           string
	model              string
	apiKey             string
	serviceAccountJSON string
}

// VertexImagenConfig describes how to connect to Imagen.
type VertexImagenConfig struct {
	ProjectID          string
	Location           string
	Model              string
	APIKey             string
	ServiceAccountJSON string
}

// NewVertexImagen wires a VertexImagen client.
func NewVertexImagen(cfg VertexImagenConfig) *VertexImagen {
	return &VertexImagen{
		projectID:          strings.TrimSpace(cfg.ProjectID),
		location:           strings.TrimSpace(cfg.Location),
		model:              strings.TrimSpace(cfg.Model),
		apiKey:             strings.TrimSpace(cfg.APIKey),
		serviceAccountJSON: strings.TrimSpace(cfg.ServiceAccountJSON),
	}
}

// Model returns the Imagen model id.
func (v *VertexImagen) Model() string { return v.model }

// Generate runs one Imagen predict call. Imagen generate models take text only, so
// re-attached references are not sent.
func (v *VertexImagen) Generate(ctx context.Context, req ImageRequest) (ImagePayload, error) {
	if v == nil {
		return ImagePayload{}, fmt.Errorf("imagen: client not configured")
	}
	if v.projectID == "" || v.location == "" || v.model == "" {
		return ImagePayload{}, fmt.Errorf("imagen: missing project/location/model")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return ImagePayload{}, fmt.Errorf("imagen: prompt is required")
	}

	instance, params, err := imagenRequest(req)
	if err != nil {
		return ImagePayload{}, err
	}

	endpoint := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", v.projectID, v.location, v.model)
	options := []option.ClientOption{option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", v.location))}
	if v.serviceAccountJSON != "" {
		options = append(options, option.WithCredentialsJSON([]byte(v.serviceAccountJSON)))
	} else if v.apiKey != "" {
		options = append(options, option.WithAPIKey(v.apiKey))
	}

	client, err := aiplatform.NewPredictionClient(ctx, options...)
	if err != nil {
		return ImagePayload{}, fmt.Errorf("imagen: prediction client: %w", err)
	}
	defer client.Close()

	resp, err := client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   endpoint,
		Instances:  []*structpb.Value{instance},
		Parameters: params,
	})
	if err != nil {
		return ImagePayload{}, fmt.Errorf("imagen: predict: %w", err)
	}
	return payloadFromPredictions(resp.GetPredictions())
}

func imagenRequest(req ImageRequest) (*structpb.Value, *structpb.Value, error) {
	instance, err := structpb.NewValue(map[string]any{
		"prompt": req.Instruction,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("imagen: build instance: %w", err)
	}

	settings := map[string]any{
		"sampleCount":      1,
		"outputOptions":    map[string]any{"mimeType": "image/png"},
		"includeRaiReason": true,
		"personGeneration": "allow_adult",
	}
	if req.AspectRatio != "" {
		settings["aspectRatio"] = req.AspectRatio
	}
	if req.Size != "" {
		settings["sampleImageSize"] = req.Size
	}
	params, err := structpb.NewValue(settings)
	if err != nil {
		return nil, nil, fmt.Errorf("imagen: build parameters: %w", err)
	}
	return instance, params, nil
}

func payloadFromPredictions(predictions []*structpb.Value) (ImagePayload, error) {
	if len(predictions) == 0 {
		return ImagePayload{}, &ProviderError{Err: ErrNoImage, Message: "empty prediction response"}
	}
	fields := predictions[0].GetStructValue().GetFields()
	encoded := strings.TrimSpace(fields["bytesBase64Encoded"].GetStringValue())
	if encoded == "" {
		return ImagePayload{}, &ProviderError{Err: ErrNoImage, Message: fields["raiFilteredReason"].GetStringValue()}
	}
	mimeType := fields["mimeType"].GetStringValue()
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Classify([]byte(encoded), mimeType)
}
