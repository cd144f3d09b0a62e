package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"restyle-studio/internal/fusion"
	"restyle-studio/internal/telegram"
)

const (
	callbackRatio    = "rs:ratio:"
	callbackGenerate = "rs:go"
)

func (h *Handler) handleRatioCommand(chatID int64, args string) error {
	p := h.pipelineFor(chatID)

	if args = strings.TrimSpace(args); args != "" {
		ar, err := fusion.ParseAspectRatio(args)
		if err == nil {
			err = p.SetAspectRatio(ar)
		}
		if err != nil {
			return h.tg.SendText(chatID, fmt.Sprintf("Unknown aspect ratio %q. Choose one of: %s", args, ratioList()))
		}
		return h.tg.SendText(chatID, "Aspect ratio set to "+ratioLabel(ar)+".")
	}

	st := p.Snapshot()
	return h.tg.SendTextWithKeyboard(chatID, "Aspect ratio: "+ratioLabel(st.AspectRatio), ratioKeyboard(st.AspectRatio, false))
}

func (h *Handler) handleCallback(_ context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID

	switch {
	case data == callbackGenerate:
		_ = h.tg.AnswerCallback(q.ID, "")
		return h.startRun(chatID)

	case strings.HasPrefix(data, callbackRatio):
		ar, err := fusion.ParseAspectRatio(strings.TrimPrefix(data, callbackRatio))
		p := h.pipelineFor(chatID)
		if err == nil {
			err = p.SetAspectRatio(ar)
		}
		if err != nil {
			return h.tg.AnswerCallback(q.ID, "Unknown aspect ratio")
		}
		_ = h.tg.AnswerCallback(q.ID, "Aspect ratio "+ar.String())

		st := p.Snapshot()
		return h.tg.EditTextWithKeyboard(chatID, msgID, "Aspect ratio: "+ratioLabel(ar), ratioKeyboard(ar, st.CanStart()))
	}

	return h.tg.AnswerCallback(q.ID, "")
}

// ratioKeyboard lists every ratio with the current one marked, plus a
// Generate button when both photos are present.
func ratioKeyboard(current fusion.AspectRatio, withGenerate bool) [][]telegram.Button {
	var row []telegram.Button
	for _, ar := range fusion.AspectRatios() {
		label := ar.String()
		if ar == current {
			label = "• " + label
		}
		row = append(row, telegram.Button{Text: label, Data: callbackRatio + ar.String()})
	}

	rows := [][]telegram.Button{row}
	if withGenerate {
		rows = append(rows, []telegram.Button{{Text: "Generate 4 images", Data: callbackGenerate}})
	}
	return rows
}

func readyKeyboard(current fusion.AspectRatio) [][]telegram.Button {
	return ratioKeyboard(current, true)
}

func ratioList() string {
	ratios := fusion.AspectRatios()
	out := make([]string, 0, len(ratios))
	for _, ar := range ratios {
		out = append(out, ar.String())
	}
	return strings.Join(out, ", ")
}
