// Package dispatch delivers rendered messages to one WhatsApp recipient,
// strictly in order.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/lhdbsbz/flowbridge/internal/message"
	"golang.org/x/time/rate"
)

const (
	DefaultPacingPerKB   = 10 * time.Millisecond
	DefaultProbeFallback = 5 * time.Second
)

// Sender is the platform side of dispatch. *whatsapp.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, phoneNumberID, to string, msg message.Outbound) error
	ContentLength(ctx context.Context, url string) (size int64, ok bool, err error)
}

// SendFunc sends a single message.
type SendFunc func(ctx context.Context, phoneNumberID, to string, msg message.Outbound) error

// WithRateLimit gates next behind lim. A nil limiter passes through.
func WithRateLimit(lim *rate.Limiter, next SendFunc) SendFunc {
	if lim == nil {
		return next
	}
	return func(ctx context.Context, phoneNumberID, to string, msg message.Outbound) error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return next(ctx, phoneNumberID, to, msg)
	}
}

// Report summarizes one Dispatch call.
type Report struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher sends messages serially. After an image it pauses in proportion
// to the image size so the platform renders it before the next message.
type Dispatcher struct {
	sender        Sender
	send          SendFunc
	PacingPerKB   time.Duration
	ProbeFallback time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// Options configures a Dispatcher. Zero values select the defaults.
type Options struct {
	PacingPerKB   time.Duration
	ProbeFallback time.Duration
	RateLimit     float64 // sends per second, 0 = unlimited
	RateBurst     int
}

func New(sender Sender, opts Options) *Dispatcher {
	d := &Dispatcher{
		sender:        sender,
		PacingPerKB:   opts.PacingPerKB,
		ProbeFallback: opts.ProbeFallback,
		sleep:         sleepCtx,
	}
	if d.PacingPerKB <= 0 {
		d.PacingPerKB = DefaultPacingPerKB
	}
	if d.ProbeFallback <= 0 {
		d.ProbeFallback = DefaultProbeFallback
	}
	var lim *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	d.send = WithRateLimit(lim, sender.Send)
	return d
}

// Dispatch sends msgs to one recipient in order. A failed send is logged and
// skipped; later messages are still attempted. Dispatch stops early only when
// ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, phoneNumberID, to string, msgs []message.Outbound) Report {
	var rep Report
	for i, msg := range msgs {
		if ctx.Err() != nil {
			rep.Failed += len(msgs) - i
			slog.Warn("dispatch aborted", "to", to, "remaining", len(msgs)-i, "error", ctx.Err())
			break
		}
		if err := d.send(ctx, phoneNumberID, to, msg); err != nil {
			rep.Failed++
			slog.Error("send failed", "to", to, "kind", msg.Kind, "index", i, "error", err)
			continue
		}
		rep.Sent++
		if msg.Kind == message.KindImage {
			d.sleep(ctx, d.imageDelay(ctx, msg.URL))
		}
	}
	return rep
}

// imageDelay is size/1024 × PacingPerKB, the fallback when the probe fails,
// and zero when the size is unknown.
func (d *Dispatcher) imageDelay(ctx context.Context, url string) time.Duration {
	size, ok, err := d.sender.ContentLength(ctx, url)
	if err != nil {
		slog.Warn("media probe failed", "url", url, "error", err, "fallback", d.ProbeFallback)
		return d.ProbeFallback
	}
	if !ok {
		return 0
	}
	return time.Duration(float64(size) / 1024 * float64(d.PacingPerKB))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
