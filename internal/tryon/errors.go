package tryon

import (
	"context"
	"errors"
	"fmt"

	"lehengaTryOn/internal/llm"
	"lehengaTryOn/internal/vision"
)

// Kind classifies a request failure.
type Kind string

const (
	KindDecode               Kind = "DecodeError"
	KindInstructionSynthesis Kind = "InstructionSynthesisError"
	KindImageSkipped         Kind = "ImageSynthesisSkipped"
	KindImageSynthesis       Kind = "ImageSynthesisError"
	KindDelivery             Kind = "DeliveryError"
)

// Sentinels matched with errors.Is against a *StageError.
var (
	ErrDecode               = errors.New("tryon: decode error")
	ErrInstructionSynthesis = errors.New("tryon: instruction synthesis failed")
	ErrImageSkipped         = errors.New("tryon: image synthesis skipped")
	ErrImageSynthesis       = errors.New("tryon: image synthesis failed")
	ErrDelivery             = errors.New("tryon: delivery failed")
	ErrTimeout              = errors.New("tryon: remote call timed out")
)

func (k Kind) sentinel() error {
	switch k {
	case KindDecode:
		return ErrDecode
	case KindInstructionSynthesis:
		return ErrInstructionSynthesis
	case KindImageSkipped:
		return ErrImageSkipped
	case KindImageSynthesis:
		return ErrImageSynthesis
	case KindDelivery:
		return ErrDelivery
	}
	return nil
}

// StageError is the classified failure of one stage.
type StageError struct {
	Stage           State
	Kind            Kind
	Err             error
	ProviderMessage string
	Timeout         bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("tryon: %s during %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes the kind sentinel, the timeout marker and the cause.
func (e *StageError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Timeout {
		errs = append(errs, ErrTimeout)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Message is the human-readable explanation shown to the user.
func (e *StageError) Message() string {
	var msg string
	switch e.Kind {
	case KindDecode:
		msg = "The uploaded garment image could not be read. Upload a JPG or PNG full view of the lehenga."
	case KindInstructionSynthesis:
		msg = "The text model could not describe the garment."
	case KindImageSynthesis:
		msg = "The image model did not return a usable image."
	case KindDelivery:
		msg = "The generated image could not be decoded."
	default:
		msg = "The request failed."
	}
	if e.Timeout {
		msg += " The remote service did not answer in time."
	}
	if e.ProviderMessage != "" {
		msg += " Provider said: " + e.ProviderMessage
	}
	return msg
}

const skippedMessage = "No image model is available, so only the instruction was produced."

func stageFailure(stage State, kind Kind, err error) *StageError {
	return &StageError{
		Stage:           stage,
		Kind:            kind,
		Err:             err,
		ProviderMessage: providerMessage(err),
		Timeout:         errors.Is(err, context.DeadlineExceeded),
	}
}

// callFailure classifies a failed remote call. The call's own deadline marks a timeout even
// when the client library reports it with its own error type.
func callFailure(callCtx context.Context, stage State, kind Kind, err error) *StageError {
	se := stageFailure(stage, kind, err)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		se.Timeout = true
	}
	return se
}

func providerMessage(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var provErr *vision.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Message
	}
	return ""
}
