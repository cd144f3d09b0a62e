// Package pipeline sequences one style-fusion run: encode both uploads,
// extract the reference style, then fan out the fusion calls. It owns the
// run state that front ends render.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/style"
)

const defaultRunTimeout = 240 * time.Second

type StyleExtractor interface {
	Extract(ctx context.Context, reference encoder.Image) (style.Descriptor, error)
}

type Fuser interface {
	Fuse(ctx context.Context, desc style.Descriptor, subject encoder.Image, ar fusion.AspectRatio) ([]encoder.Image, error)
}

type Options struct {
	Extractor  StyleExtractor
	Fuser      Fuser
	Logger     *zerolog.Logger
	RunTimeout time.Duration
	// OnChange is called after every state change, outside the lock.
	OnChange func(State)
}

type Orchestrator struct {
	extractor  StyleExtractor
	fuser      Fuser
	logger     zerolog.Logger
	runTimeout time.Duration
	onChange   func(State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Run is the handle of one started run.
type Run struct {
	ID   string
	done chan struct{}

	images []encoder.Image
	err    error
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends. It returns the four images
// on success and the run's error otherwise.
func (r *Run) Wait(ctx context.Context) ([]encoder.Image, error) {
	select {
	case <-r.done:
		return r.images, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func New(opts Options) *Orchestrator {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "pipeline").Logger()
	}

	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}

	return &Orchestrator{
		extractor:  opts.Extractor,
		fuser:      opts.Fuser,
		logger:     logger,
		runTimeout: runTimeout,
		onChange:   opts.OnChange,
		state: State{
			Phase:       Idle,
			AspectRatio: fusion.DefaultAspectRatio,
			UpdatedAt:   time.Now(),
		},
	}
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) SetReference(u *Upload) {
	o.update(func(st *State) { st.Reference = u })
}

func (o *Orchestrator) SetSubject(u *Upload) {
	o.update(func(st *State) { st.Subject = u })
}

func (o *Orchestrator) SetAspectRatio(ar fusion.AspectRatio) error {
	if !ar.Valid() {
		return fmt.Errorf("%w: %q", fusion.ErrUnknownAspectRatio, ar)
	}
	o.update(func(st *State) { st.AspectRatio = ar })
	return nil
}

// Start validates the inputs and, if both images are present, moves to
// AwaitingStyleAnalysis before returning. The run continues in its own
// goroutine derived from ctx, so ctx must outlive the caller's request.
func (o *Orchestrator) Start(ctx context.Context) (*Run, error) {
	o.mu.Lock()
	if o.state.Phase.Active() {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}

	var missing []string
	if o.state.Reference == nil {
		missing = append(missing, "reference")
	}
	if o.state.Subject == nil {
		missing = append(missing, "subject")
	}
	if len(missing) > 0 {
		err := &ValidationError{Missing: missing}
		o.state.Error = err.UserMessage()
		o.state.UpdatedAt = time.Now()
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.notify(snap)
		return nil, err
	}

	run := &Run{ID: uuid.NewString(), done: make(chan struct{})}
	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	o.cancel = cancel

	reference, subject, ar := o.state.Reference, o.state.Subject, o.state.AspectRatio
	o.transitionLocked(AwaitingStyleAnalysis)
	o.state.RunID = run.ID
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Info().Str("run_id", run.ID).Str("aspect_ratio", ar.String()).Msg("run started")
	o.notify(snap)

	go o.execute(runCtx, cancel, run, reference, subject, ar)
	return run, nil
}

// Reset returns to Idle. Uploads and the aspect ratio are kept. An in-flight
// run is cancelled and whatever it produces afterwards is dropped.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	superseded := o.state.RunID
	o.transitionLocked(Idle)
	o.state.RunID = ""
	snap := o.snapshotLocked()
	o.mu.Unlock()

	if superseded != "" {
		o.logger.Info().Str("run_id", superseded).Msg("run reset")
	}
	o.notify(snap)
}

func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, run *Run, reference, subject *Upload, ar fusion.AspectRatio) {
	defer close(run.done)
	defer cancel()

	start := time.Now()
	images, err := o.runStages(ctx, run.ID, reference, subject, ar)
	if err != nil {
		run.err = err
		if errors.Is(err, ErrSuperseded) {
			return
		}
		if !o.commit(run.ID, func(st *State) {
			o.transitionLocked(Failed)
			st.Error = Message(err)
		}) {
			run.err = ErrSuperseded
			return
		}
		o.logger.Warn().Err(err).Str("run_id", run.ID).Dur("duration", time.Since(start)).Msg("run failed")
		return
	}

	if !o.commit(run.ID, func(st *State) {
		o.transitionLocked(Succeeded)
		st.Images = images
	}) {
		run.err = ErrSuperseded
		return
	}
	run.images = images
	o.logger.Info().Str("run_id", run.ID).Dur("duration", time.Since(start)).Msg("run succeeded")
}

func (o *Orchestrator) runStages(ctx context.Context, runID string, reference, subject *Upload, ar fusion.AspectRatio) ([]encoder.Image, error) {
	refImg, err := reference.Encode()
	if err != nil {
		return nil, err
	}
	subjImg, err := subject.Encode()
	if err != nil {
		return nil, err
	}

	if o.extractor == nil || o.fuser == nil {
		return nil, errors.New("pipeline is not configured")
	}

	desc, err := o.extractor.Extract(ctx, refImg)
	if err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, &style.AnalysisError{Cause: err}
	}

	if !o.commit(runID, func(*State) { o.transitionLocked(AwaitingFusion) }) {
		return nil, ErrSuperseded
	}

	images, err := o.fuser.Fuse(ctx, desc, subjImg, ar)
	if err != nil {
		return nil, err
	}
	if len(images) != fusion.Count {
		return nil, &fusion.Error{Index: len(images), Err: fmt.Errorf("expected %d images, got %d", fusion.Count, len(images))}
	}
	return images, nil
}

// commit applies fn only if runID is still the current run.
func (o *Orchestrator) commit(runID string, fn func(*State)) bool {
	o.mu.Lock()
	if o.state.RunID != runID || !o.state.Phase.Active() {
		o.mu.Unlock()
		o.logger.Info().Str("run_id", runID).Msg("dropping result of superseded run")
		return false
	}
	fn(&o.state)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
	return true
}

func (o *Orchestrator) update(fn func(*State)) {
	o.mu.Lock()
	fn(&o.state)
	o.state.UpdatedAt = time.Now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// transitionLocked moves to phase p and clears everything the previous phase
// displayed.
func (o *Orchestrator) transitionLocked(p Phase) {
	o.state.Phase = p
	o.state.Progress = progressLabel(p)
	o.state.Error = ""
	o.state.Images = nil
	o.state.UpdatedAt = time.Now()
	if !p.Active() {
		o.cancel = nil
	}
}

func (o *Orchestrator) snapshotLocked() State {
	st := o.state
	st.Images = append([]encoder.Image(nil), o.state.Images...)
	return st
}

func (o *Orchestrator) notify(st State) {
	if o.onChange != nil {
		o.onChange(st)
	}
}
