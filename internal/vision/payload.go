package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"lehengaTryOn/internal/imaging"
)

// ErrUnrecognizedPayload is returned when bytes are neither an image nor base64 text.
var ErrUnrecognizedPayload = errors.New("vision: unrecognized image payload")

// PayloadKind tags the transport shape of a rendered image.
type PayloadKind int

const (
	// PayloadRaw carries encoded image bytes as-is.
	PayloadRaw PayloadKind = iota + 1
	// PayloadBase64 carries base64 text that decodes to encoded image bytes.
	PayloadBase64
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadRaw:
		return "raw"
	case PayloadBase64:
		return "base64"
	default:
		return "unknown"
	}
}

// ImagePayload is the tagged result of an image synthesis call: Raw(bytes) or Base64Text(string).
type ImagePayload struct {
	Kind     PayloadKind
	MIMEType string
	raw      []byte
	text     string
}

// Raw wraps encoded image bytes.
func Raw(data []byte, mimeType string) ImagePayload {
	return ImagePayload{Kind: PayloadRaw, MIMEType: mimeType, raw: data}
}

// Base64Text wraps a base64-encoded image.
func Base64Text(text, mimeType string) ImagePayload {
	return ImagePayload{Kind: PayloadBase64, MIMEType: mimeType, text: text}
}

// Bytes returns the encoded image bytes. Raw payloads come back unchanged.
func (p ImagePayload) Bytes() ([]byte, error) {
	switch p.Kind {
	case PayloadRaw:
		if len(p.raw) == 0 {
			return nil, fmt.Errorf("%w: empty raw payload", ErrUnrecognizedPayload)
		}
		return p.raw, nil
	case PayloadBase64:
		data, err := decodeBase64(p.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		return data, nil
	default:
		return nil, ErrUnrecognizedPayload
	}
}

// Classify inspects bytes returned by a provider and decides which shape they carry.
// Anything that sniffs as an image is Raw. Base64 text (optionally a data URL) whose
// decoded bytes sniff as an image is Base64Text. Everything else is rejected.
func Classify(data []byte, mimeType string) (ImagePayload, error) {
	if len(data) == 0 {
		return ImagePayload{}, fmt.Errorf("%w: empty payload", ErrUnrecognizedPayload)
	}
	if format, ok := imaging.Sniff(data); ok {
		if mimeType == "" {
			mimeType = "image/" + format
		}
		return Raw(data, mimeType), nil
	}

	text := string(bytes.TrimSpace(data))
	if stripped, declared, ok := splitDataURL(text); ok {
		text = stripped
		if declared != "" {
			mimeType = declared
		}
	}
	decoded, err := decodeBase64(text)
	if err != nil {
		return ImagePayload{}, fmt.Errorf("%w: %d bytes, not an image and not base64", ErrUnrecognizedPayload, len(data))
	}
	format, ok := imaging.Sniff(decoded)
	if !ok {
		return ImagePayload{}, fmt.Errorf("%w: base64 text does not decode to an image", ErrUnrecognizedPayload)
	}
	if mimeType == "" {
		mimeType = "image/" + format
	}
	return Base64Text(text, mimeType), nil
}

func decodeBase64(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty base64 text")
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(text); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

func splitDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return raw, "", false
	}
	header, body, found := strings.Cut(raw, ",")
	if !found {
		return raw, "", false
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	return body, mime, true
}
