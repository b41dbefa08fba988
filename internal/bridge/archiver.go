package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lhdbsbz/flowbridge/internal/voiceflow"
)

const (
	AnonymousUser = "Anonymous"

	defaultArchiveTimeout = 30 * time.Second
)

// TranscriptSaver stores transcript records. *voiceflow.Client satisfies it.
type TranscriptSaver interface {
	SaveTranscript(ctx context.Context, t voiceflow.Transcript) error
}

// Archiver records ended sessions in the engine's transcript store. It is a
// no-op unless a project id is configured.
type Archiver struct {
	Saver     TranscriptSaver
	VersionID string
	ProjectID string
	Icon      string
	Timeout   time.Duration

	wg sync.WaitGroup
}

func (a *Archiver) Enabled() bool {
	return a != nil && a.Saver != nil && a.ProjectID != ""
}

// Record builds the transcript record for one session.
func (a *Archiver) Record(userName, sessionID string) voiceflow.Transcript {
	if userName == "" {
		userName = AnonymousUser
	}
	return voiceflow.Transcript{
		Browser:   "WhatsApp",
		Device:    "desktop",
		OS:        "server",
		SessionID: sessionID,
		Unread:    true,
		VersionID: a.VersionID,
		ProjectID: a.ProjectID,
		User:      voiceflow.TranscriptUser{Name: userName, Image: a.Icon},
	}
}

// Save archives synchronously.
func (a *Archiver) Save(ctx context.Context, userName, sessionID string) error {
	if !a.Enabled() {
		return nil
	}
	if err := a.Saver.SaveTranscript(ctx, a.Record(userName, sessionID)); err != nil {
		return fmt.Errorf("save transcript %s: %w", sessionID, err)
	}
	slog.Info("transcript saved", "session", sessionID)
	return nil
}

// Archive saves in the background. Failures are logged and dropped.
func (a *Archiver) Archive(userName, sessionID string) {
	if !a.Enabled() {
		return
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultArchiveTimeout
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Save(ctx, userName, sessionID); err != nil {
			slog.Warn("transcript archive failed", "session", sessionID, "error", err)
		}
	}()
}

// Wait blocks until background archives finish.
func (a *Archiver) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}
