package tryon

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lehengaTryOn/internal/catalog"
	"lehengaTryOn/internal/events"
	"lehengaTryOn/internal/imaging"
	"lehengaTryOn/internal/intake"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const referencePreviewEdge = 320

// Handler exposes the try-on pipeline over HTTP.
type Handler struct {
	Pipeline  *Pipeline
	Selection catalog.Selection
	Events    *events.Broker
	Logger    zerolog.Logger
}

// Form handles GET /.
func (h Handler) Form(w http.ResponseWriter, _ *http.Request) {
	h.render(w, http.StatusOK, "index.html", map[string]any{
		"Selection": h.Selection,
		"Skipped":   !h.Selection.ImageAvailable(),
	})
}

// Submit handles POST /tryon from the browser form and renders the result page.
func (h Handler) Submit(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.readUploads(w, r)
	if err != nil {
		h.render(w, http.StatusBadRequest, "result.html", resultView{Messages: []string{err.Error()}, Filename: h.Pipeline.filename()})
		return
	}
	res := h.Pipeline.Run(r.Context(), requestID(r), uploads)
	h.render(w, statusFor(res), "result.html", buildView(res, h.Pipeline.filename()))
}

// API handles POST /api/tryon and answers with JSON.
func (h Handler) API(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.readUploads(w, r)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res := h.Pipeline.Run(r.Context(), requestID(r), uploads)
	writeJSONStatus(w, statusFor(res), newResponse(res))
}

// Download handles POST /api/tryon/download and streams the JPEG as an attachment.
func (h Handler) Download(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.readUploads(w, r)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res := h.Pipeline.Run(r.Context(), requestID(r), uploads)
	switch {
	case res.Failed():
		writeJSONStatus(w, statusFor(res), newResponse(res))
	case res.ImageSkipped || res.Output == nil:
		writeJSONStatus(w, http.StatusConflict, newResponse(res))
	default:
		w.Header().Set("Content-Type", res.Output.MIMEType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Output.Filename))
		w.Header().Set("Content-Length", fmt.Sprint(len(res.Output.Data)))
		w.Header().Set("X-Request-Id", res.RequestID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Output.Data)
	}
}

// Models handles GET /api/models.
func (h Handler) Models(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"text_model":      h.Selection.TextModel,
		"image_model":     h.Selection.ImageModel,
		"image_available": h.Selection.ImageAvailable(),
	})
}

// StreamEvents handles GET /api/events as server-sent events.
func (h Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "events inactive", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("request_id"))
	if id != "" && !validRequestID.MatchString(id) {
		http.Error(w, "invalid request_id", http.StatusBadRequest)
		return
	}

	ch := h.Events.Subscribe(id)
	defer h.Events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.Logger.Error().Err(err).Msg("encode event")
				continue
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
			if id != "" && evt.Terminal() {
				return
			}
		}
	}
}

func (h Handler) readUploads(w http.ResponseWriter, r *http.Request) ([]intake.Upload, error) {
	perFile := h.Pipeline.MaxUploadBytes
	if perFile <= 0 {
		perFile = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, perFile*int64(len(intake.Roles))+(1<<20))
	if err := r.ParseMultipartForm(perFile + (1 << 20)); err != nil {
		return nil, fmt.Errorf("invalid multipart payload: %w", err)
	}

	var uploads []intake.Upload
	for _, role := range intake.Roles {
		file, header, err := r.FormFile(string(role))
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				continue
			}
			return nil, fmt.Errorf("could not read %s image: %w", role, err)
		}
		data, err := io.ReadAll(io.LimitReader(file, perFile+1))
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s image: %w", role, err)
		}
		if len(data) == 0 {
			continue
		}
		uploads = append(uploads, intake.Upload{
			Role:        role,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-/.]{1,96}$`)

// requestID prefers a client-chosen id so the form can subscribe to progress before submitting.
func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.FormValue("request_id")); validRequestID.MatchString(id) {
		return id
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func statusFor(res *Result) int {
	if !res.Failed() || res.Err == nil {
		return http.StatusOK
	}
	switch {
	case res.Err.Timeout:
		return http.StatusGatewayTimeout
	case res.Err.Kind == KindDecode:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type imageJSON struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Data     string `json:"data"`
}

type errorJSON struct {
	Stage           string `json:"stage"`
	Kind            string `json:"kind"`
	Message         string `json:"message"`
	ProviderMessage string `json:"provider_message,omitempty"`
	Timeout         bool   `json:"timeout"`
}

type roleErrorJSON struct {
	Role  string `json:"role"`
	Error string `json:"error"`
}

type response struct {
	RequestID    string          `json:"request_id"`
	State        State           `json:"state"`
	Trail        []State         `json:"trail"`
	Instruction  string          `json:"instruction,omitempty"`
	ImageSkipped bool            `json:"image_skipped"`
	Message      string          `json:"message,omitempty"`
	IntakeErrors []roleErrorJSON `json:"intake_errors,omitempty"`
	Payload      string          `json:"payload,omitempty"`
	Image        *imageJSON      `json:"image,omitempty"`
	Preview      string          `json:"preview,omitempty"`
	Error        *errorJSON      `json:"error,omitempty"`
}

func newResponse(res *Result) response {
	out := response{
		RequestID:    res.RequestID,
		State:        res.State,
		Trail:        res.Trail,
		Instruction:  res.Instruction,
		ImageSkipped: res.ImageSkipped,
	}
	if res.ImageSkipped {
		out.Message = skippedMessage
	}
	if res.PayloadKind != 0 {
		out.Payload = res.PayloadKind.String()
	}
	for _, re := range res.IntakeErrors {
		out.IntakeErrors = append(out.IntakeErrors, roleErrorJSON{Role: string(re.Role), Error: re.Err.Error()})
	}
	if res.Output != nil {
		out.Image = &imageJSON{
			Filename: res.Output.Filename,
			MIMEType: res.Output.MIMEType,
			Width:    res.Output.Width,
			Height:   res.Output.Height,
			Data:     base64.StdEncoding.EncodeToString(res.Output.Data),
		}
		if len(res.Output.Preview) > 0 {
			out.Preview = base64.StdEncoding.EncodeToString(res.Output.Preview)
		}
	}
	if res.Err != nil {
		out.Error = &errorJSON{
			Stage:           string(res.Err.Stage),
			Kind:            string(res.Err.Kind),
			Message:         res.Err.Message(),
			ProviderMessage: res.Err.ProviderMessage,
			Timeout:         res.Err.Timeout,
		}
	}
	return out
}

type referenceView struct {
	Role string
	URL  template.URL
}

type resultView struct {
	RequestID   string
	State       State
	Instruction string
	Skipped     bool
	Messages    []string
	References  []referenceView
	ImageURL    template.URL
	PreviewURL  template.URL
	Filename    string
	Width       int
	Height      int
}

func buildView(res *Result, filename string) resultView {
	view := resultView{
		RequestID:   res.RequestID,
		State:       res.State,
		Instruction: res.Instruction,
		Skipped:     res.ImageSkipped,
		Filename:    filename,
	}
	for _, re := range res.IntakeErrors {
		view.Messages = append(view.Messages, fmt.Sprintf("The %s image was ignored: %v", re.Role, re.Err))
	}
	if res.ImageSkipped {
		view.Messages = append(view.Messages, skippedMessage)
	}
	if res.Err != nil {
		view.Messages = append(view.Messages, res.Err.Message())
	}
	for _, ref := range res.References.Ordered() {
		thumb, err := imaging.PreviewJPEG(ref.Bitmap, referencePreviewEdge, previewQuality)
		if err != nil {
			continue
		}
		view.References = append(view.References, referenceView{Role: string(ref.Role), URL: dataURL("image/jpeg", thumb)})
	}
	if res.Output != nil {
		view.Filename = res.Output.Filename
		view.Width = res.Output.Width
		view.Height = res.Output.Height
		view.ImageURL = dataURL(res.Output.MIMEType, res.Output.Data)
		view.PreviewURL = view.ImageURL
		if len(res.Output.Preview) > 0 {
			view.PreviewURL = dataURL("image/jpeg", res.Output.Preview)
		}
	}
	return view
}

// dataURL builds an inline URL from bytes this process encoded itself.
func dataURL(mimeType string, data []byte) template.URL {
	return template.URL("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

func (h Handler) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error().Err(err).Str("template", name).Msg("render page")
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
