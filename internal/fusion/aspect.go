package fusion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type AspectRatio string

const (
	Square    AspectRatio = "1:1"
	Landscape AspectRatio = "4:3"
	Portrait  AspectRatio = "3:4"
	Wide      AspectRatio = "16:9"
	Tall      AspectRatio = "9:16"
)

const DefaultAspectRatio = Square

var aspectRatios = []AspectRatio{Square, Landscape, Portrait, Wide, Tall}

var ErrUnknownAspectRatio = errors.New("unknown aspect ratio")

// AspectRatios lists the selectable ratios in display order.
func AspectRatios() []AspectRatio {
	return append([]AspectRatio(nil), aspectRatios...)
}

// ParseAspectRatio accepts "16:9", " 16 : 9 " or "16x9". Empty input yields
// the default ratio.
func ParseAspectRatio(value string) (AspectRatio, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return DefaultAspectRatio, nil
	}
	value = strings.ReplaceAll(value, "x", ":")

	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: %q", ErrUnknownAspectRatio, value)
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil || a <= 0 || b <= 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownAspectRatio, value)
	}

	ar := AspectRatio(fmt.Sprintf("%d:%d", a, b))
	if !ar.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAspectRatio, ar)
	}
	return ar, nil
}

func (ar AspectRatio) Valid() bool {
	for _, known := range aspectRatios {
		if ar == known {
			return true
		}
	}
	return false
}

func (ar AspectRatio) String() string {
	return string(ar)
}

// Orientation is used in the instruction text.
func (ar AspectRatio) Orientation() string {
	switch ar {
	case Landscape, Wide:
		return "landscape"
	case Portrait, Tall:
		return "portrait"
	default:
		return "square"
	}
}
