package tryon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"lehengaTryOn/internal/intake"
	"lehengaTryOn/internal/llm"
	"lehengaTryOn/internal/vision"
)

// DefaultFilename is the suggested download name when none is configured.
const DefaultFilename = "lehenga_tryon.jpg"

// Pipeline runs one try-on request from uploads to a delivered JPEG. It holds only
// read-only collaborators and is safe for concurrent use.
type Pipeline struct {
	Text      llm.Client
	TextModel string
	// Images is nil when no image model is available; requests then finish skipped.
	Images   vision.ImageGenerator
	Template string
	Reattach bool

	TextTimeout    time.Duration
	ImageTimeout   time.Duration
	Filename       string
	MaxUploadBytes int64
	PreviewEdge    int

	Observer Observer
	Logger   zerolog.Logger
}

// Result is everything one request produced. Nothing in it outlives the response.
type Result struct {
	RequestID    string
	State        State
	Trail        []State
	References   intake.ReferenceSet
	IntakeErrors []*intake.RoleError
	Instruction  string
	ImageSkipped bool
	PayloadKind  vision.PayloadKind
	Output       *Artifact
	Err          *StageError
}

// Failed reports whether the request ended in the failed state.
func (r *Result) Failed() bool { return r.State == StateFailed }

// Run executes intake, instruction synthesis, image synthesis and delivery in strict order.
// Each remote call is attempted exactly once.
func (p *Pipeline) Run(ctx context.Context, requestID string, uploads []intake.Upload) *Result {
	logger := p.Logger.With().Str("request_id", requestID).Logger()
	t := newTracker(requestID, p.Observer, logger)
	res := &Result{RequestID: requestID}
	finish := func() *Result {
		res.State = t.state
		res.Trail = t.trail
		return res
	}
	failWith := func(err *StageError) *Result {
		res.Err = err
		t.fail(err)
		return finish()
	}

	t.advance(StateIntaking)
	refs, roleErrs := intake.Decode(uploads, intake.Options{MaxBytes: p.MaxUploadBytes})
	res.References = refs
	res.IntakeErrors = roleErrs
	for _, re := range roleErrs {
		logger.Warn().Str("role", string(re.Role)).Err(re.Err).Msg("reference rejected")
	}
	if refs.Primary == nil {
		return failWith(&StageError{Stage: StateIntaking, Kind: KindDecode, Err: missingPrimary(roleErrs)})
	}

	t.advance(StateSynthesizingInstruction)
	instruction, serr := p.synthesizeInstruction(ctx, refs)
	if serr != nil {
		return failWith(serr)
	}
	res.Instruction = instruction
	logger.Debug().Str("instruction", instruction).Msg("instruction ready")

	if p.Images == nil {
		res.ImageSkipped = true
		t.skip()
		return finish()
	}

	t.advance(StateSynthesizingImage)
	raw, kind, serr := p.synthesizeImage(ctx, instruction, refs)
	res.PayloadKind = kind
	if serr != nil {
		return failWith(serr)
	}
	logger.Debug().Str("payload", kind.String()).Int("bytes", len(raw)).Msg("image received")

	t.advance(StateDelivering)
	art, serr := p.deliver(raw)
	if serr != nil {
		return failWith(serr)
	}
	res.Output = art
	t.advance(StateDone)
	return finish()
}

func missingPrimary(roleErrs []*intake.RoleError) error {
	for _, re := range roleErrs {
		if re.Role == intake.RolePrimary {
			return errors.Join(intake.ErrMissingPrimary, re)
		}
	}
	return intake.ErrMissingPrimary
}
