package tryon

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lehengaTryOn/internal/imaging"
	"lehengaTryOn/internal/intake"
	"lehengaTryOn/internal/llm"
	"lehengaTryOn/internal/vision"
)

type fakeText struct {
	reply llm.Reply
	err   error
	wait  bool
	calls int
	model string
	parts []llm.Part
}

func (f *fakeText) Generate(ctx context.Context, model string, parts []llm.Part) (llm.Reply, error) {
	f.calls++
	f.model = model
	f.parts = parts
	if f.wait {
		<-ctx.Done()
		return llm.Reply{}, ctx.Err()
	}
	return f.reply, f.err
}

type fakeImages struct {
	payload vision.ImagePayload
	err     error
	calls   int
	req     vision.ImageRequest
}

func (f *fakeImages) Generate(_ context.Context, req vision.ImageRequest) (vision.ImagePayload, error) {
	f.calls++
	f.req = req
	return f.payload, f.err
}

func (f *fakeImages) Model() string { return "fake-image" }

// stalledImages waits out the call deadline and then reports it the way an RPC client does,
// without wrapping context.DeadlineExceeded.
type stalledImages struct{}

func (stalledImages) Generate(ctx context.Context, _ vision.ImageRequest) (vision.ImagePayload, error) {
	<-ctx.Done()
	return vision.ImagePayload{}, errors.New("rpc error: code = DeadlineExceeded desc = context deadline exceeded")
}

func (stalledImages) Model() string { return "stalled-image" }

func classified(t *testing.T, data string) *fakeImages {
	t.Helper()
	payload, err := vision.Classify([]byte(data), "")
	return &fakeImages{payload: payload, err: err}
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) Observe(t Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func testPNG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func upload(t *testing.T, role intake.Role, shade uint8) intake.Upload {
	return intake.Upload{Role: role, Filename: string(role) + ".png", ContentType: "image/png", Data: testPNG(t, 16, 12, shade)}
}

func textReply(text string) llm.Reply {
	return llm.Reply{Segments: []llm.Part{llm.TextPart(text)}}
}

func newPipeline(text llm.Client, images vision.ImageGenerator) *Pipeline {
	p := &Pipeline{
		Text:         text,
		TextModel:    "gemini-2.5-flash",
		Template:     "TEMPLATE",
		Reattach:     true,
		TextTimeout:  time.Second,
		ImageTimeout: time.Second,
		PreviewEdge:  8,
		Logger:       zerolog.Nop(),
	}
	p.Images = images
	return p
}

func assertTrail(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trail mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trail mismatch: got %v want %v", got, want)
		}
	}
}

func TestRunPrimaryOnlyProducesJPEG(t *testing.T) {
	text := &fakeText{reply: textReply("  Generate a 2048x2048 photorealistic image  ")}
	images := &fakeImages{payload: vision.Raw(testPNG(t, 64, 64, 200), "image/png")}
	rec := &recorder{}
	p := newPipeline(text, images)
	p.Observer = rec

	res := p.Run(context.Background(), "req-1", []intake.Upload{upload(t, intake.RolePrimary, 10)})

	if res.State != StateDone || res.Err != nil {
		t.Fatalf("expected done, got %s (%v)", res.State, res.Err)
	}
	assertTrail(t, res.Trail, StateIdle, StateIntaking, StateSynthesizingInstruction, StateSynthesizingImage, StateDelivering, StateDone)
	if res.Instruction != "Generate a 2048x2048 photorealistic image" {
		t.Fatalf("instruction mismatch: got %q", res.Instruction)
	}
	if res.Output == nil || !strings.HasSuffix(res.Output.Filename, ".jpg") {
		t.Fatalf("expected jpg output, got %+v", res.Output)
	}
	if format, ok := imaging.Sniff(res.Output.Data); !ok || format != "jpeg" {
		t.Fatalf("output is not jpeg: %q", format)
	}
	if res.Output.Width != 64 || res.Output.Height != 64 {
		t.Fatalf("output size mismatch: %dx%d", res.Output.Width, res.Output.Height)
	}
	if len(res.Output.Preview) == 0 {
		t.Fatalf("expected a preview")
	}
	if text.model != "gemini-2.5-flash" {
		t.Fatalf("text model mismatch: got %q", text.model)
	}
	if images.req.Width != 2048 || images.req.Height != 2048 || images.req.AspectRatio != "1:1" {
		t.Fatalf("image request config mismatch: %+v", images.req)
	}
	if len(rec.transitions) != 5 {
		t.Fatalf("expected 5 observed transitions, got %d", len(rec.transitions))
	}
	if last := rec.transitions[4]; last.From != StateDelivering || last.To != StateDone || last.RequestID != "req-1" {
		t.Fatalf("last transition mismatch: %+v", last)
	}
}

func TestRunSendsPartsInRoleOrder(t *testing.T) {
	text := &fakeText{reply: textReply("render")}
	images := &fakeImages{payload: vision.Raw(testPNG(t, 8, 8, 1), "image/png")}
	p := newPipeline(text, images)

	primary := upload(t, intake.RolePrimary, 1)
	closeup := upload(t, intake.RoleCloseup, 2)
	secondary := upload(t, intake.RoleSecondary, 3)
	// submission order must not matter
	res := p.Run(context.Background(), "req-2", []intake.Upload{secondary, primary, closeup})
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	if len(text.parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(text.parts))
	}
	if text.parts[0].Text != "TEMPLATE" || text.parts[0].Inline != nil {
		t.Fatalf("first part should be the template: %+v", text.parts[0])
	}
	for i, want := range [][]byte{primary.Data, closeup.Data, secondary.Data} {
		got := text.parts[i+1].Inline
		if got == nil || !bytes.Equal(got.Data, want) {
			t.Fatalf("part %d does not carry the expected reference", i+1)
		}
	}
	if len(images.req.References) != 3 || !bytes.Equal(images.req.References[0].Data, primary.Data) {
		t.Fatalf("references should be re-attached in order")
	}
	if !strings.HasPrefix(images.req.Instruction, "render") {
		t.Fatalf("image prompt should start with the instruction: %q", images.req.Instruction)
	}
}

func TestRunWithoutReattach(t *testing.T) {
	text := &fakeText{reply: textReply("render")}
	images := &fakeImages{payload: vision.Raw(testPNG(t, 8, 8, 1), "image/png")}
	p := newPipeline(text, images)
	p.Reattach = false

	p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
	if len(images.req.References) != 0 {
		t.Fatalf("references should not be attached, got %d", len(images.req.References))
	}
	if images.req.Instruction != "render" {
		t.Fatalf("instruction mismatch: got %q", images.req.Instruction)
	}
}

func TestRunMissingPrimaryMakesNoCalls(t *testing.T) {
	cases := []struct {
		name    string
		uploads func(t *testing.T) []intake.Upload
	}{
		{name: "absent", uploads: func(t *testing.T) []intake.Upload {
			return []intake.Upload{upload(t, intake.RoleCloseup, 1)}
		}},
		{name: "undecodable", uploads: func(t *testing.T) []intake.Upload {
			return []intake.Upload{{Role: intake.RolePrimary, Filename: "p.png", Data: []byte("nope")}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := &fakeText{reply: textReply("x")}
			images := &fakeImages{}
			p := newPipeline(text, images)

			res := p.Run(context.Background(), "req", tc.uploads(t))
			if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindDecode {
				t.Fatalf("expected Failed(DecodeError), got %s %v", res.State, res.Err)
			}
			if !errors.Is(res.Err, intake.ErrMissingPrimary) || !errors.Is(res.Err, ErrDecode) {
				t.Fatalf("error should match ErrMissingPrimary and ErrDecode: %v", res.Err)
			}
			if text.calls != 0 || images.calls != 0 {
				t.Fatalf("no remote call expected, got text=%d image=%d", text.calls, images.calls)
			}
			assertTrail(t, res.Trail, StateIdle, StateIntaking, StateFailed)
		})
	}
}

func TestRunOptionalDecodeFailureIsReported(t *testing.T) {
	text := &fakeText{reply: textReply("render")}
	p := newPipeline(text, &fakeImages{payload: vision.Raw(testPNG(t, 8, 8, 1), "image/png")})

	broken := intake.Upload{Role: intake.RoleCloseup, Filename: "c.png", Data: []byte("broken")}
	res := p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1), broken})
	if res.State != StateDone {
		t.Fatalf("expected done, got %s (%v)", res.State, res.Err)
	}
	if len(res.IntakeErrors) != 1 || res.IntakeErrors[0].Role != intake.RoleCloseup {
		t.Fatalf("expected closeup intake error, got %v", res.IntakeErrors)
	}
	if len(text.parts) != 2 {
		t.Fatalf("failed closeup must not be sent, got %d parts", len(text.parts))
	}
}

func TestRunTextTransportError(t *testing.T) {
	text := &fakeText{err: &llm.APIError{Status: 503, Message: "backend unavailable"}}
	images := &fakeImages{}
	res := newPipeline(text, images).Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})

	if res.State != StateFailed || res.Err.Kind != KindInstructionSynthesis {
		t.Fatalf("expected Failed(InstructionSynthesisError), got %s %v", res.State, res.Err)
	}
	if !errors.Is(res.Err, ErrInstructionSynthesis) {
		t.Fatalf("error should match ErrInstructionSynthesis")
	}
	if res.Err.ProviderMessage != "backend unavailable" {
		t.Fatalf("provider message mismatch: got %q", res.Err.ProviderMessage)
	}
	if images.calls != 0 {
		t.Fatalf("image synthesis must not run, got %d calls", images.calls)
	}
	assertTrail(t, res.Trail, StateIdle, StateIntaking, StateSynthesizingInstruction, StateFailed)
}

func TestRunNoTextSegment(t *testing.T) {
	text := &fakeText{reply: llm.Reply{FinishReason: "SAFETY"}}
	images := &fakeImages{}
	res := newPipeline(text, images).Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})

	if res.Err == nil || res.Err.Kind != KindInstructionSynthesis || !errors.Is(res.Err, llm.ErrNoText) {
		t.Fatalf("expected ErrNoText instruction failure, got %v", res.Err)
	}
	if res.Err.ProviderMessage != "SAFETY" {
		t.Fatalf("provider message mismatch: got %q", res.Err.ProviderMessage)
	}
	if images.calls != 0 {
		t.Fatalf("image synthesis must not run")
	}
}

func TestRunInstructionIsSingleLine(t *testing.T) {
	text := &fakeText{reply: textReply("Generate the image.\n\n  Keep the  border  sharp.\t")}
	res := newPipeline(text, nil).Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
	if res.Instruction != "Generate the image. Keep the border sharp." {
		t.Fatalf("instruction mismatch: got %q", res.Instruction)
	}
}

func TestRunTextTimeout(t *testing.T) {
	text := &fakeText{wait: true}
	p := newPipeline(text, &fakeImages{})
	p.TextTimeout = 10 * time.Millisecond

	res := p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
	if res.Err == nil || !res.Err.Timeout {
		t.Fatalf("expected timeout, got %v", res.Err)
	}
	if res.Err.Kind != KindInstructionSynthesis || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("timeout should be classified as instruction failure: %v", res.Err)
	}
}

func TestRunImageTimeoutFromClientError(t *testing.T) {
	p := newPipeline(&fakeText{reply: textReply("render")}, stalledImages{})
	p.ImageTimeout = 10 * time.Millisecond

	res := p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
	if res.State != StateFailed || res.Err == nil {
		t.Fatalf("expected failure, got %s", res.State)
	}
	if res.Err.Kind != KindImageSynthesis || res.Err.Stage != StateSynthesizingImage {
		t.Fatalf("expected image synthesis failure, got %s at %s", res.Err.Kind, res.Err.Stage)
	}
	if !res.Err.Timeout || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", res.Err)
	}
	if got := statusFor(res); got != http.StatusGatewayTimeout {
		t.Fatalf("status mismatch: got %d want %d", got, http.StatusGatewayTimeout)
	}
}

func TestRunImagePromptNamesAttachedViews(t *testing.T) {
	images := &fakeImages{payload: vision.Raw(testPNG(t, 8, 8, 1), "image/png")}
	p := newPipeline(&fakeText{reply: textReply("render")}, images)
	p.Reattach = true

	res := p.Run(context.Background(), "req", []intake.Upload{
		upload(t, intake.RolePrimary, 1),
		upload(t, intake.RoleSecondary, 3),
	})
	if res.State != StateDone {
		t.Fatalf("expected done, got %s (%v)", res.State, res.Err)
	}
	if len(images.req.References) != 2 {
		t.Fatalf("expected 2 attached references, got %d", len(images.req.References))
	}
	if !strings.Contains(images.req.Instruction, "in order: full view, blouse.") || strings.Contains(images.req.Instruction, "close-up") {
		t.Fatalf("prompt mislabels attached views: %q", images.req.Instruction)
	}
}

func TestTransitionLogsCarryRequestIDOnce(t *testing.T) {
	var buf bytes.Buffer
	p := newPipeline(&fakeText{reply: textReply("render")}, nil)
	p.Logger = zerolog.New(&buf)

	p.Run(context.Background(), "req-7", []intake.Upload{upload(t, intake.RolePrimary, 1)})

	lines := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "tryon transition") {
			continue
		}
		lines++
		if n := strings.Count(line, `"request_id"`); n != 1 {
			t.Fatalf("request_id appears %d times in %s", n, line)
		}
	}
	if lines == 0 {
		t.Fatalf("expected transition log lines")
	}
}

func TestRunSkippedWithoutImageModel(t *testing.T) {
	text := &fakeText{reply: textReply("render")}
	rec := &recorder{}
	p := newPipeline(text, nil)
	p.Observer = rec

	res := p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
	if res.State != StateDone || !res.ImageSkipped {
		t.Fatalf("expected done+skipped, got %s skipped=%v", res.State, res.ImageSkipped)
	}
	if res.Output != nil {
		t.Fatalf("delivery must not run when skipped")
	}
	assertTrail(t, res.Trail, StateIdle, StateIntaking, StateSynthesizingInstruction, StateDone)
	if last := rec.transitions[len(rec.transitions)-1]; !last.Skipped {
		t.Fatalf("final transition should carry the skipped marker")
	}
}

func TestRunImagePayloadShapes(t *testing.T) {
	img := testPNG(t, 20, 10, 9)
	cases := []struct {
		name    string
		payload vision.ImagePayload
	}{
		{name: "raw bytes", payload: vision.Raw(img, "image/png")},
		{name: "base64 text", payload: vision.Base64Text(base64.StdEncoding.EncodeToString(img), "image/png")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(&fakeText{reply: textReply("render")}, &fakeImages{payload: tc.payload})
			res := p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
			if res.State != StateDone || res.Output == nil {
				t.Fatalf("expected done, got %s (%v)", res.State, res.Err)
			}
			if _, err := imaging.Decode(res.Output.Data); err != nil {
				t.Fatalf("output not decodable: %v", err)
			}
			if res.PayloadKind != tc.payload.Kind {
				t.Fatalf("payload kind mismatch: got %s want %s", res.PayloadKind, tc.payload.Kind)
			}
		})
	}
}

func TestRunImageFailures(t *testing.T) {
	cases := []struct {
		name     string
		images   *fakeImages
		wantKind Kind
		provider string
	}{
		{
			name:     "provider error",
			images:   &fakeImages{err: &vision.ProviderError{Message: "prompt blocked", Err: vision.ErrNoImage}},
			wantKind: KindImageSynthesis,
			provider: "prompt blocked",
		},
		{
			name:     "unrecognized payload",
			images:   &fakeImages{payload: vision.Base64Text("%%%", "")},
			wantKind: KindImageSynthesis,
		},
		{
			name:     "text that is valid base64",
			images:   classified(t, "Blocked"),
			wantKind: KindImageSynthesis,
		},
		{
			name:     "undecodable image",
			images:   &fakeImages{payload: vision.Raw([]byte("not really an image"), "image/png")},
			wantKind: KindDelivery,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(&fakeText{reply: textReply("render")}, tc.images)
			res := p.Run(context.Background(), "req", []intake.Upload{upload(t, intake.RolePrimary, 1)})
			if res.State != StateFailed || res.Err == nil || res.Err.Kind != tc.wantKind {
				t.Fatalf("expected Failed(%s), got %s %v", tc.wantKind, res.State, res.Err)
			}
			if res.Err.ProviderMessage != tc.provider {
				t.Fatalf("provider message mismatch: got %q want %q", res.Err.ProviderMessage, tc.provider)
			}
			if res.Output != nil {
				t.Fatalf("no output expected")
			}
		})
	}
}

func TestAllowedTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateIntaking, true},
		{StateIdle, StateFailed, false},
		{StateIntaking, StateSynthesizingImage, false},
		{StateSynthesizingInstruction, StateDone, true},
		{StateSynthesizingImage, StateDone, false},
		{StateDelivering, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateDelivering, StateIntaking, false},
	}
	for _, tc := range cases {
		if got := allowed(tc.from, tc.to); got != tc.want {
			t.Fatalf("allowed(%s, %s) mismatch: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
