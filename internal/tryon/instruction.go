package tryon

import (
	"context"
	"strings"
	"time"

	"lehengaTryOn/internal/intake"
	"lehengaTryOn/internal/llm"
)

// instructionParts orders the call payload: template, primary, closeup, secondary.
func instructionParts(template string, refs intake.ReferenceSet) []llm.Part {
	parts := []llm.Part{llm.TextPart(template)}
	for _, ref := range refs.Ordered() {
		parts = append(parts, llm.ImagePart(ref.MIMEType, ref.Encoded))
	}
	return parts
}

func (p *Pipeline) synthesizeInstruction(ctx context.Context, refs intake.ReferenceSet) (string, *StageError) {
	callCtx, cancel := withTimeout(ctx, p.TextTimeout)
	defer cancel()

	reply, err := p.Text.Generate(callCtx, p.TextModel, instructionParts(p.Template, refs))
	if err != nil {
		return "", callFailure(callCtx, StateSynthesizingInstruction, KindInstructionSynthesis, err)
	}
	text, ok := reply.FirstText()
	if !ok {
		se := stageFailure(StateSynthesizingInstruction, KindInstructionSynthesis, llm.ErrNoText)
		se.ProviderMessage = reply.FinishReason
		return "", se
	}
	return singleLine(text), nil
}

// singleLine collapses every whitespace run, newlines included, into one space.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
