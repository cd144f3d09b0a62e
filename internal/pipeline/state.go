package pipeline

import (
	"time"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/fusion"
)

type Phase int

const (
	Idle Phase = iota
	AwaitingStyleAnalysis
	AwaitingFusion
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingStyleAnalysis:
		return "awaiting_style_analysis"
	case AwaitingFusion:
		return "awaiting_fusion"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Active reports whether a run is in flight.
func (p Phase) Active() bool {
	return p == AwaitingStyleAnalysis || p == AwaitingFusion
}

func progressLabel(p Phase) string {
	switch p {
	case AwaitingStyleAnalysis:
		return "Step 1 of 2: analyzing the reference style…"
	case AwaitingFusion:
		return "Step 2 of 2: generating 4 images…"
	case Succeeded:
		return "Done: 4 images ready"
	}
	return ""
}

// Upload is a user-selected image. Encoding is deferred until a run needs
// the payload, so read failures surface as run failures.
type Upload struct {
	Name       string
	MimeType   string
	UploadedAt time.Time

	encode func() (encoder.Image, error)
}

func NewUpload(name, mimeType string, raw []byte) *Upload {
	raw = append([]byte(nil), raw...)
	return &Upload{
		Name:       name,
		MimeType:   encoder.DetectMimeType(mimeType, raw),
		UploadedAt: time.Now(),
		encode: func() (encoder.Image, error) {
			return encoder.EncodeBytes(raw, mimeType)
		},
	}
}

func FileUpload(path string) *Upload {
	return &Upload{
		Name:       path,
		UploadedAt: time.Now(),
		encode: func() (encoder.Image, error) {
			return encoder.EncodeFile(path)
		},
	}
}

func ImageUpload(name string, img encoder.Image) *Upload {
	return &Upload{
		Name:       name,
		MimeType:   img.MimeType,
		UploadedAt: time.Now(),
		encode: func() (encoder.Image, error) {
			if img.IsZero() {
				return encoder.Image{}, &encoder.EncodingError{Op: "read", Err: encoder.ErrEmptyImage}
			}
			return img, nil
		},
	}
}

func (u *Upload) Encode() (encoder.Image, error) {
	if u == nil || u.encode == nil {
		return encoder.Image{}, &encoder.EncodingError{Op: "read", Err: encoder.ErrEmptyImage}
	}
	return u.encode()
}

// State is a copy of the orchestrator's run state.
type State struct {
	Phase       Phase
	Progress    string
	Error       string
	Images      []encoder.Image
	RunID       string
	Reference   *Upload
	Subject     *Upload
	AspectRatio fusion.AspectRatio
	UpdatedAt   time.Time
}

// CanStart mirrors the trigger control: both images present and no run active.
func (s State) CanStart() bool {
	return s.Reference != nil && s.Subject != nil && !s.Phase.Active()
}
