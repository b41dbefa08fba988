// Package bridge runs dialog turns: one inbound WhatsApp action in, the
// engine's reply rendered and dispatched back out.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lhdbsbz/flowbridge/internal/dispatch"
	"github.com/lhdbsbz/flowbridge/internal/message"
	"github.com/lhdbsbz/flowbridge/internal/render"
	"github.com/lhdbsbz/flowbridge/internal/session"
	"github.com/lhdbsbz/flowbridge/internal/voiceflow"
	"github.com/lhdbsbz/flowbridge/internal/whatsapp"
)

const defaultTurnTimeout = 2 * time.Minute

// Engine is the dialog engine. *voiceflow.Client satisfies it.
type Engine interface {
	UpdateVariables(ctx context.Context, userID string, vars voiceflow.Variables) error
	Interact(ctx context.Context, userID, sessionID string, action message.Action) ([]voiceflow.Block, error)
}

// Dispatcher delivers rendered messages. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, phoneNumberID, to string, msgs []message.Outbound) dispatch.Report
}

// Deps are the collaborators that change when configuration is reloaded.
type Deps struct {
	Engine     Engine
	Dispatcher Dispatcher
	Archiver   *Archiver
	VersionID  string
}

// Turn is one user action together with the context needed to answer it.
type Turn struct {
	UserID        string
	UserName      string
	PhoneNumberID string
	Action        message.Action
}

// Service orchestrates turns. Turns of one user run one at a time; different
// users never share state.
type Service struct {
	store  *session.Store
	timers *message.NoReplyScheduler
	deps   atomic.Pointer[Deps]
	sink   atomic.Pointer[EventSink]

	// TurnTimeout bounds turns started by a no-reply timer.
	TurnTimeout time.Duration
}

func NewService(store *session.Store, timers *message.NoReplyScheduler, deps Deps) *Service {
	s := &Service{
		store:       store,
		timers:      timers,
		TurnTimeout: defaultTurnTimeout,
	}
	s.deps.Store(&deps)
	return s
}

// Reconfigure swaps the engine, dispatcher and archiver for subsequent turns.
func (s *Service) Reconfigure(deps Deps) {
	s.deps.Store(&deps)
}

// SetEventSink installs the monitor sink. nil disables events.
func (s *Service) SetEventSink(sink EventSink) {
	if sink == nil {
		s.sink.Store(nil)
		return
	}
	s.sink.Store(&sink)
}

func (s *Service) Store() *session.Store { return s.store }

func (s *Service) emit(evt Event) {
	p := s.sink.Load()
	if p == nil {
		return
	}
	evt.Timestamp = time.Now()
	(*p)(evt)
}

// Handle runs the turn carried by a normalized webhook. Events without an
// action are acknowledged and ignored.
func (s *Service) Handle(ctx context.Context, in whatsapp.Inbound) error {
	if in.Action == nil {
		slog.Debug("webhook without action", "from", in.SenderID, "type", in.MessageType)
		return nil
	}
	return s.Interact(ctx, Turn{
		UserID:        in.SenderID,
		UserName:      in.SenderName,
		PhoneNumberID: in.PhoneNumberID,
		Action:        *in.Action,
	})
}

// Interact runs one turn for t.UserID.
func (s *Service) Interact(ctx context.Context, t Turn) error {
	_, err := s.run(ctx, t, 0)
	return err
}

// run executes the turn. When onlyAtTurn is non-zero the turn is skipped
// unless the user's turn counter still equals it.
func (s *Service) run(ctx context.Context, t Turn, onlyAtTurn uint64) (bool, error) {
	if t.UserID == "" {
		return false, errors.New("turn without user id")
	}
	unlock := s.store.Lock(t.UserID)
	defer unlock()

	if onlyAtTurn != 0 && s.store.Turn(t.UserID) != onlyAtTurn {
		return false, nil
	}
	s.timers.Cancel(t.UserID)

	deps := s.deps.Load()
	entry := s.store.Ensure(session.Profile{
		UserID:        t.UserID,
		UserName:      t.UserName,
		PhoneNumberID: t.PhoneNumberID,
	}, deps.VersionID)
	if t.UserName == "" {
		t.UserName = entry.UserName
	}
	if t.PhoneNumberID == "" {
		t.PhoneNumberID = entry.PhoneNumberID
	}

	s.emit(Event{Type: EventTurnStarted, UserID: t.UserID, SessionID: entry.SessionID, Turn: entry.Turn, Action: t.Action.Kind})
	slog.Info("turn started", "user", t.UserID, "session", entry.SessionID, "turn", entry.Turn, "action", t.Action.Kind)
	start := time.Now()

	fail := func(err error) (bool, error) {
		s.emit(Event{Type: EventTurnFailed, UserID: t.UserID, SessionID: entry.SessionID, Turn: entry.Turn, Error: err.Error()})
		return true, err
	}

	vars := voiceflow.Variables{UserID: t.UserID, UserName: t.UserName}
	if err := deps.Engine.UpdateVariables(ctx, t.UserID, vars); err != nil {
		return fail(fmt.Errorf("update variables: %w", err))
	}

	blocks, err := deps.Engine.Interact(ctx, t.UserID, entry.SessionID, t.Action)
	if err != nil {
		if blocks == nil || !errors.Is(err, voiceflow.ErrMalformedBlock) {
			return fail(fmt.Errorf("interact: %w", err))
		}
		slog.Warn("malformed blocks skipped", "user", t.UserID, "error", err)
	}

	ended := voiceflow.HasEnd(blocks)
	if ended {
		deps.Archiver.Archive(t.UserName, entry.SessionID)
		s.store.Rotate(t.UserID, deps.VersionID)
	}

	res := render.Render(blocks)
	rep := deps.Dispatcher.Dispatch(ctx, t.PhoneNumberID, t.UserID, res.Messages)

	if ended {
		s.emit(Event{Type: EventSessionEnded, UserID: t.UserID, SessionID: entry.SessionID, Turn: entry.Turn})
	} else if res.HasNoReply {
		s.armNoReply(t, entry, res.NoReply)
	}

	s.emit(Event{Type: EventTurnCompleted, UserID: t.UserID, SessionID: entry.SessionID, Turn: entry.Turn, Sent: rep.Sent, Failed: rep.Failed})
	slog.Info("turn completed", "user", t.UserID, "session", entry.SessionID, "blocks", len(blocks),
		"sent", rep.Sent, "failed", rep.Failed, "ended", ended, "duration", time.Since(start))
	return true, nil
}

// armNoReply schedules a no-reply turn. The timer is dropped if any other
// turn for the user runs first.
func (s *Service) armNoReply(t Turn, entry session.Entry, d time.Duration) {
	t.Action = message.NoReplyAction()
	armedAt := entry.Turn
	s.timers.Arm(t.UserID, d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.TurnTimeout)
		defer cancel()
		ran, err := s.run(ctx, t, armedAt)
		if err != nil {
			slog.Error("no-reply turn failed", "user", t.UserID, "error", err)
			return
		}
		if !ran {
			slog.Debug("no-reply superseded", "user", t.UserID)
		}
	})
	s.emit(Event{Type: EventNoReplyArmed, UserID: t.UserID, SessionID: entry.SessionID, Turn: entry.Turn, Delay: d.String()})
	slog.Debug("no-reply armed", "user", t.UserID, "delay", d)
}

// EndSession cancels the user's timer, archives the current session and
// forgets the user. It reports whether the user was known.
func (s *Service) EndSession(ctx context.Context, userID string) (bool, error) {
	unlock := s.store.Lock(userID)
	defer unlock()

	s.timers.Cancel(userID)
	entry, ok := s.store.Get(userID)
	if !ok {
		return false, nil
	}
	s.store.Delete(userID)
	s.emit(Event{Type: EventSessionEnded, UserID: userID, SessionID: entry.SessionID, Turn: entry.Turn})
	if err := s.deps.Load().Archiver.Save(ctx, entry.UserName, entry.SessionID); err != nil {
		return true, err
	}
	return true, nil
}

// SweepIdle evicts users idle for longer than idle and cancels their timers.
func (s *Service) SweepIdle(idle time.Duration) int {
	evicted := s.store.Sweep(idle)
	for _, id := range evicted {
		s.timers.Cancel(id)
	}
	if len(evicted) > 0 {
		slog.Info("idle sessions evicted", "count", len(evicted))
	}
	return len(evicted)
}

// PendingNoReply reports whether a no-reply timer is armed for userID.
func (s *Service) PendingNoReply(userID string) bool {
	return s.timers.Pending(userID)
}
