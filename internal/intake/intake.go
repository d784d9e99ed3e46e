package intake

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"lehengaTryOn/internal/imaging"
	"lehengaTryOn/internal/llm"
)

// Role names one of the three upload slots.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleCloseup   Role = "closeup"
	RoleSecondary Role = "secondary"
)

// Label is how the image prompt names the view.
func (r Role) Label() string {
	switch r {
	case RolePrimary:
		return "full view"
	case RoleCloseup:
		return "close-up"
	case RoleSecondary:
		return "blouse"
	}
	return string(r)
}

// Roles lists every role in the order references are sent to the models.
var Roles = []Role{RolePrimary, RoleCloseup, RoleSecondary}

// ErrMissingPrimary is returned when no primary garment view was uploaded or it failed to decode.
var ErrMissingPrimary = errors.New("intake: primary garment image is required")

// ErrUnsupportedFormat rejects files outside jpg/jpeg/png.
var ErrUnsupportedFormat = errors.New("intake: unsupported file type")

// ErrTooLarge rejects files above the configured upload limit.
var ErrTooLarge = errors.New("intake: file too large")

// Upload is one uploaded file tagged with its role.
type Upload struct {
	Role        Role
	Filename    string
	ContentType string
	Data        []byte
}

// Reference is a decoded upload together with its original encoding.
type Reference struct {
	Role     Role
	Filename string
	MIMEType string
	Encoded  []byte
	Bitmap   *imaging.Bitmap
}

// Blob returns the encoded form sent to remote models.
func (r *Reference) Blob() llm.Blob {
	return llm.Blob{MIMEType: r.MIMEType, Data: r.Encoded}
}

// ReferenceSet holds whichever roles were supplied. Absent roles stay nil.
type ReferenceSet struct {
	Primary   *Reference
	Closeup   *Reference
	Secondary *Reference
}

// Ordered returns the present references in primary, closeup, secondary order.
func (s ReferenceSet) Ordered() []*Reference {
	out := make([]*Reference, 0, 3)
	for _, ref := range []*Reference{s.Primary, s.Closeup, s.Secondary} {
		if ref != nil {
			out = append(out, ref)
		}
	}
	return out
}

// Blobs returns the encoded references in send order.
func (s ReferenceSet) Blobs() []llm.Blob {
	refs := s.Ordered()
	out := make([]llm.Blob, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.Blob())
	}
	return out
}

func (s *ReferenceSet) set(ref *Reference) {
	switch ref.Role {
	case RolePrimary:
		s.Primary = ref
	case RoleCloseup:
		s.Closeup = ref
	case RoleSecondary:
		s.Secondary = ref
	}
}

// RoleError reports a failure for one role. Other roles are unaffected.
type RoleError struct {
	Role Role
	Err  error
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("intake: %s: %v", e.Role, e.Err)
}

func (e *RoleError) Unwrap() error { return e.Err }

// Options bounds what intake accepts.
type Options struct {
	MaxBytes int64
}

// Decode turns the uploads into a ReferenceSet. Each role is decoded independently and
// failures are returned per role without stopping the others.
func Decode(uploads []Upload, opts Options) (ReferenceSet, []*RoleError) {
	var set ReferenceSet
	var failures []*RoleError
	seen := make(map[Role]bool, len(uploads))

	for _, up := range uploads {
		if !validRole(up.Role) {
			failures = append(failures, &RoleError{Role: up.Role, Err: fmt.Errorf("unknown role %q", up.Role)})
			continue
		}
		if seen[up.Role] {
			failures = append(failures, &RoleError{Role: up.Role, Err: errors.New("duplicate upload")})
			continue
		}
		seen[up.Role] = true

		ref, err := decodeOne(up, opts)
		if err != nil {
			failures = append(failures, &RoleError{Role: up.Role, Err: err})
			continue
		}
		set.set(ref)
	}
	return set, failures
}

func decodeOne(up Upload, opts Options) (*Reference, error) {
	if opts.MaxBytes > 0 && int64(len(up.Data)) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(up.Data), opts.MaxBytes)
	}
	if !supported(up.Filename, up.ContentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, describe(up))
	}
	format, ok := imaging.Sniff(up.Data)
	if ok && !supportedFormats[format] {
		return nil, fmt.Errorf("%w: %s holds %s data", ErrUnsupportedFormat, describe(up), format)
	}
	bmp, err := imaging.Decode(up.Data)
	if err != nil {
		return nil, err
	}
	mimeType := "image/" + format
	return &Reference{
		Role:     up.Role,
		Filename: up.Filename,
		MIMEType: mimeType,
		Encoded:  up.Data,
		Bitmap:   bmp,
	}, nil
}

func validRole(role Role) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

var supportedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

var supportedFormats = map[string]bool{"jpeg": true, "png": true}

var supportedTypes = map[string]bool{"image/jpeg": true, "image/jpg": true, "image/png": true}

// supported gates on the declared extension, falling back to the declared content type
// when the filename carries none.
func supported(filename, contentType string) bool {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return supportedExtensions[ext]
	}
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return ct == "" || supportedTypes[ct]
}

func describe(up Upload) string {
	if up.Filename != "" {
		return up.Filename
	}
	return up.ContentType
}
