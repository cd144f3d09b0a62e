package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/mediagroup"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/session"
	"restyle-studio/internal/telegram"
)

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, rows [][]telegram.Button) error
	EditTextWithKeyboard(chatID int64, messageID int, text string, rows [][]telegram.Button) error
	AnswerCallback(callbackID, text string) error
	SendAlbum(chatID int64, images []encoder.Image, caption string) error
	DownloadImage(ctx context.Context, fileID string) (encoder.Image, error)
}

type Options struct {
	Telegram Messenger
	// NewPipeline builds the pipeline of a chat. onChange must be passed on.
	NewPipeline func(onChange func(pipeline.State)) *pipeline.Orchestrator
	SessionTTL  time.Duration
	// BaseContext parents generation runs, which outlive a single update.
	BaseContext context.Context
	Logger      *zerolog.Logger
}

type Handler struct {
	tg         Messenger
	sessions   *session.Store
	baseCtx    context.Context
	logger     zerolog.Logger
	aggregator *mediagroup.Aggregator

	mu        sync.Mutex
	nextSlot  map[int64]slot
	lastPhase map[int64]pipeline.Phase
}

func New(opts Options) *Handler {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "handlers").Logger()
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	h := &Handler{
		tg:        opts.Telegram,
		baseCtx:   baseCtx,
		logger:    logger,
		nextSlot:  make(map[int64]slot),
		lastPhase: make(map[int64]pipeline.Phase),
	}

	newPipeline := opts.NewPipeline
	if newPipeline == nil {
		newPipeline = func(onChange func(pipeline.State)) *pipeline.Orchestrator {
			return pipeline.New(pipeline.Options{OnChange: onChange})
		}
	}

	h.sessions = session.NewStore(session.Options{
		TTL:    opts.SessionTTL,
		Logger: opts.Logger,
		New: func(id string) *pipeline.Orchestrator {
			chatID, _ := chatIDFromKey(id)
			return newPipeline(func(st pipeline.State) { h.onStateChange(chatID, st) })
		},
	})

	return h
}

func (h *Handler) Sessions() *session.Store {
	return h.sessions
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func sessionKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func chatIDFromKey(key string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(key, "tg:"), 10, 64)
	return id, err == nil
}

func (h *Handler) pipelineFor(chatID int64) *pipeline.Orchestrator {
	return h.sessions.GetOrCreate(sessionKey(chatID)).Pipeline
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, msg)
	}

	if msg.Document != nil && encoder.IsImageMimeType(msg.Document.MimeType) {
		return h.handleDocument(ctx, chatID, msg)
	}

	if strings.TrimSpace(msg.Text) != "" {
		return h.tg.SendText(chatID, "Send me two photos: the style reference and the subject. /help explains more.")
	}

	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.processAlbum(ctx, group); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error().Err(err).Int64("chat_id", group.ChatID).Msg("media group processing failed")
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return h.tg.SendText(chatID,
			"Restyle Studio\n\n"+
				"Send a style reference photo and a photo of your subject. "+
				"I will redraw the subject in the style of the reference, four times.\n\n"+
				helpCommands,
		)
	case "help":
		return h.tg.SendText(chatID,
			"How it works\n\n"+
				"1. Send the style reference (caption it \"style\" to be explicit).\n"+
				"2. Send the subject photo (caption it \"me\" or \"subject\").\n"+
				"3. Pick a ratio with /ratio and run /generate.\n"+
				"Sending both photos as one album starts right away.\n\n"+
				helpCommands,
		)
	case "ratio":
		return h.handleRatioCommand(chatID, msg.CommandArguments())
	case "generate":
		return h.startRun(chatID)
	case "reset":
		h.pipelineFor(chatID).Reset()
		h.mu.Lock()
		delete(h.nextSlot, chatID)
		h.mu.Unlock()
		return h.tg.SendText(chatID, "Reset. Your photos are kept; send new ones to replace them.")
	default:
		return h.tg.SendText(chatID, "Unknown command. Use /help.")
	}
}

const helpCommands = "Commands:\n" +
	"/ratio - choose the aspect ratio\n" +
	"/generate - create four images\n" +
	"/reset - cancel and start over\n" +
	"/help - show help"

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		user := msg.From
		item := mediagroup.Item{
			ChatID:       chatID,
			MessageID:    msg.MessageID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		}
		if user != nil {
			item.UserID = user.ID
			item.Username = user.UserName
		}
		h.aggregator.Add(item)
		return nil
	}

	return h.storePhoto(ctx, chatID, fileID, "photo.jpg", msg.Caption)
}

func (h *Handler) handleDocument(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	return h.storePhoto(ctx, chatID, msg.Document.FileID, msg.Document.FileName, msg.Caption)
}

func (h *Handler) storePhoto(ctx context.Context, chatID int64, fileID, name, caption string) error {
	h.tg.SendTyping(chatID)

	img, err := h.tg.DownloadImage(ctx, fileID)
	if err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("photo download failed")
		return h.tg.SendText(chatID, "I could not download that photo. Please send it again.")
	}

	p := h.pipelineFor(chatID)
	target := h.resolveSlot(chatID, captionSlot(caption), p.Snapshot())
	upload := pipeline.ImageUpload(name, img)
	if target == slotReference {
		p.SetReference(upload)
	} else {
		p.SetSubject(upload)
	}

	st := p.Snapshot()
	switch {
	case st.Reference == nil:
		return h.tg.SendText(chatID, "Subject saved. Now send the style reference photo.")
	case st.Subject == nil:
		return h.tg.SendText(chatID, "Style reference saved. Now send the subject photo.")
	}

	text := fmt.Sprintf("%s saved. Both photos are ready.\nAspect ratio: %s\nTap Generate or pick another ratio.",
		capitalize(target.String()), st.AspectRatio)
	return h.tg.SendTextWithKeyboard(chatID, text, readyKeyboard(st.AspectRatio))
}

// resolveSlot turns an automatic slot into a concrete one: the reference is
// filled first, then the subject, then they alternate.
func (h *Handler) resolveSlot(chatID int64, requested slot, st pipeline.State) slot {
	h.mu.Lock()
	defer h.mu.Unlock()

	target := requested
	if target == slotAuto {
		switch {
		case st.Reference == nil:
			target = slotReference
		case st.Subject == nil:
			target = slotSubject
		case h.nextSlot[chatID] != slotAuto:
			target = h.nextSlot[chatID]
		default:
			target = slotReference
		}
	}

	if target == slotReference {
		h.nextSlot[chatID] = slotSubject
	} else {
		h.nextSlot[chatID] = slotReference
	}
	return target
}

func (h *Handler) processAlbum(ctx context.Context, group mediagroup.Group) error {
	chatID := group.ChatID
	if len(group.FileIDs) != 2 {
		return h.tg.SendText(chatID, fmt.Sprintf(
			"Please send exactly two photos in an album (got %d): the style reference first, then the subject.",
			len(group.FileIDs)))
	}

	h.tg.SendTyping(chatID)

	images := make([]encoder.Image, len(group.FileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range group.FileIDs {
		eg.Go(func() error {
			img, err := h.tg.DownloadImage(egCtx, fileID)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("album download failed")
		return h.tg.SendText(chatID, "I could not download the album. Please send it again.")
	}

	reference, subject := images[0], images[1]
	if captionSlot(group.Caption) == slotSubject {
		reference, subject = subject, reference
	}

	p := h.pipelineFor(chatID)
	p.SetReference(pipeline.ImageUpload("reference.jpg", reference))
	p.SetSubject(pipeline.ImageUpload("subject.jpg", subject))
	h.mu.Lock()
	h.nextSlot[chatID] = slotReference
	h.mu.Unlock()

	return h.startRun(chatID)
}

func (h *Handler) startRun(chatID int64) error {
	_, err := h.pipelineFor(chatID).Start(h.baseCtx)
	if err == nil {
		return nil
	}

	var verr *pipeline.ValidationError
	if !errors.As(err, &verr) && !errors.Is(err, pipeline.ErrRunInProgress) {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("start run failed")
	}
	return h.tg.SendText(chatID, pipeline.Message(err))
}

// onStateChange reports phase changes of a chat's pipeline back to the chat.
func (h *Handler) onStateChange(chatID int64, st pipeline.State) {
	h.mu.Lock()
	last, seen := h.lastPhase[chatID]
	h.lastPhase[chatID] = st.Phase
	h.mu.Unlock()

	if seen && last == st.Phase {
		return
	}

	var err error
	switch st.Phase {
	case pipeline.AwaitingStyleAnalysis, pipeline.AwaitingFusion:
		h.tg.SendTyping(chatID)
		err = h.tg.SendText(chatID, st.Progress)
	case pipeline.Succeeded:
		err = h.tg.SendAlbum(chatID, st.Images, fmt.Sprintf("%s (%s)", st.Progress, st.AspectRatio))
	case pipeline.Failed:
		err = h.tg.SendText(chatID, st.Error)
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Str("phase", st.Phase.String()).Msg("progress notification failed")
	}
}

func ratioLabel(ar fusion.AspectRatio) string {
	return fmt.Sprintf("%s (%s)", ar, ar.Orientation())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
