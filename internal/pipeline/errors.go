package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"restyle-studio/internal/encoder"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrSuperseded is returned by Run.Wait when a reset or a newer run
	// replaced the run before it finished.
	ErrSuperseded = errors.New("run superseded")
)

// ValidationError is returned by Start when a required image is missing.
// No remote call is made.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing %s image", strings.Join(e.Missing, " and "))
}

func (e *ValidationError) UserMessage() string {
	return fmt.Sprintf("Please upload the %s image first.", strings.Join(e.Missing, " and "))
}

type userMessager interface {
	UserMessage() string
}

// Message converts any run error into the text shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}

	var encErr *encoder.EncodingError
	switch {
	case errors.As(err, &encErr):
		return "One of the images could not be read. Please upload it again."
	case errors.Is(err, context.DeadlineExceeded):
		return "Generation took too long and was stopped. Please try again."
	case errors.Is(err, ErrRunInProgress):
		return "A generation is already running."
	}
	return "Something went wrong. Please try again."
}
