package handlers

import "strings"

type slot int

const (
	slotAuto slot = iota
	slotReference
	slotSubject
)

func (s slot) String() string {
	switch s {
	case slotReference:
		return "reference"
	case slotSubject:
		return "subject"
	}
	return "auto"
}

// captionSlot picks the slot a photo caption asks for. Subject keywords win
// when both kinds appear.
func captionSlot(caption string) slot {
	words := strings.FieldsFunc(strings.ToLower(caption), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	var reference, subject bool
	for _, w := range words {
		switch w {
		case "subject", "person", "me", "selfie", "portrait":
			subject = true
		case "style", "reference", "ref", "scene", "background":
			reference = true
		}
	}

	switch {
	case subject:
		return slotSubject
	case reference:
		return slotReference
	}
	return slotAuto
}
