// Package fusion generates the final images: four identical, concurrent
// image-generation calls that re-render the subject inside the extracted
// style.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/gemini"
	"restyle-studio/internal/style"
)

const (
	DefaultModel = "gemini-2.5-flash-image"
	Count        = 4
)

const UserMessage = "Image generation failed. One of the variations was rejected or came back empty; please try again."

var ErrNoImageData = errors.New("response contains no inline image data")

// Error reports the first of the four calls that failed. The whole batch is
// discarded when any call fails.
type Error struct {
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fusion call %d/%d failed: %v", e.Index+1, Count, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) UserMessage() string {
	return UserMessage
}

type Request struct {
	Descriptor  style.Descriptor
	Subject     encoder.Image
	AspectRatio AspectRatio
}

type Options struct {
	Generator gemini.Generator
	Model     string
	Logger    *zerolog.Logger
}

type Fuser struct {
	gen    gemini.Generator
	model  string
	logger zerolog.Logger
}

func New(opts Options) *Fuser {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "fusion").Logger()
	}

	return &Fuser{
		gen:    opts.Generator,
		model:  model,
		logger: logger,
	}
}

// Fuse issues Count calls at once and waits for every one of them. On
// success the images are in issue order.
func (f *Fuser) Fuse(ctx context.Context, desc style.Descriptor, subject encoder.Image, ar AspectRatio) ([]encoder.Image, error) {
	if f.gen == nil {
		return nil, &Error{Index: 0, Err: errors.New("generator is nil")}
	}
	if !ar.Valid() {
		return nil, &Error{Index: 0, Err: fmt.Errorf("%w: %q", ErrUnknownAspectRatio, ar)}
	}

	req := f.request(Request{Descriptor: desc, Subject: subject, AspectRatio: ar})
	start := time.Now()

	images := make([]encoder.Image, Count)
	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < Count; i++ {
		i := i
		eg.Go(func() error {
			img, err := f.generateOne(withCallIndex(egCtx, i), req)
			if err != nil {
				f.logger.Warn().Err(err).Int("call", i+1).Msg("fusion call failed")
				return &Error{Index: i, Err: err}
			}
			images[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("model", f.model).
		Str("aspect_ratio", ar.String()).
		Dur("duration", time.Since(start)).
		Msg("fusion complete")
	return images, nil
}

type callIndexKey struct{}

func withCallIndex(ctx context.Context, i int) context.Context {
	return context.WithValue(ctx, callIndexKey{}, i)
}

// CallIndex reports which of the Count calls ctx belongs to.
func CallIndex(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(callIndexKey{}).(int)
	return i, ok
}

func (f *Fuser) request(r Request) gemini.Request {
	return gemini.Request{
		Model: f.model,
		Parts: []gemini.Part{
			gemini.ImagePart(r.Subject),
			gemini.TextPart(BuildInstruction(r.Descriptor, r.AspectRatio)),
		},
		ResponseModalities: []string{gemini.ModalityImage, gemini.ModalityText},
		AspectRatio:        r.AspectRatio.String(),
	}
}

func (f *Fuser) generateOne(ctx context.Context, req gemini.Request) (encoder.Image, error) {
	resp, err := f.gen.GenerateContent(ctx, req)
	if err != nil {
		return encoder.Image{}, err
	}
	img, ok := resp.FirstImage()
	if !ok {
		if resp.FinishReason != "" {
			return encoder.Image{}, fmt.Errorf("%w (finish reason %s)", ErrNoImageData, resp.FinishReason)
		}
		return encoder.Image{}, ErrNoImageData
	}
	return img, nil
}
