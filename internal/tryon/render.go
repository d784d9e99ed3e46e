package tryon

import (
	"context"

	"lehengaTryOn/internal/intake"
	"lehengaTryOn/internal/llm"
	"lehengaTryOn/internal/prompts"
	"lehengaTryOn/internal/vision"
)

func (p *Pipeline) synthesizeImage(ctx context.Context, instruction string, refs intake.ReferenceSet) ([]byte, vision.PayloadKind, *StageError) {
	var (
		attached []llm.Blob
		labels   []string
	)
	if p.Reattach {
		for _, ref := range refs.Ordered() {
			attached = append(attached, ref.Blob())
			labels = append(labels, ref.Role.Label())
		}
	}
	req := vision.NewImageRequest(prompts.ImagePrompt(instruction, labels), attached)

	callCtx, cancel := withTimeout(ctx, p.ImageTimeout)
	defer cancel()

	payload, err := p.Images.Generate(callCtx, req)
	if err != nil {
		return nil, 0, callFailure(callCtx, StateSynthesizingImage, KindImageSynthesis, err)
	}
	data, err := payload.Bytes()
	if err != nil {
		return nil, payload.Kind, stageFailure(StateSynthesizingImage, KindImageSynthesis, err)
	}
	return data, payload.Kind, nil
}
