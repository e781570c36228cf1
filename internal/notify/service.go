// Package notify pushes Telegram alerts when jobs enter warning or error
// states. It is an ordinary long-poll consumer of the monitor's change
// notification API, not part of the monitoring loop.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"cronmon/internal/monitor"
	logx "cronmon/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
}

// Watcher is the slice of the monitor API the service consumes.
type Watcher interface {
	WaitForEventSince(ctx context.Context, startID, warnID, finishID int64, timeout time.Duration) monitor.Update
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Service struct {
	cfg     Config
	watcher Watcher
	log     logx.Logger
	limiter *rate.Limiter
	bot     sender

	done chan struct{}
}

func New(cfg Config, watcher Watcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Service{
		cfg:     cfg,
		watcher: watcher,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.done != nil {
		return nil
	}

	if s.bot == nil {
		b, err := tele.NewBot(tele.Settings{Token: s.cfg.Token})
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		s.bot = b
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
	s.log.Info("service started", logx.Int64("chat", s.cfg.ChatID))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

// run long-polls the monitor and alerts when the warning or error counters
// rise. Alerts are rate limited; bursts beyond the limit are dropped, the
// next poll reports the then-current state anyway.
func (s *Service) run(ctx context.Context) {
	var startID, warnID, finishID int64
	prevWarning, prevError := 0, 0
	first := true

	for ctx.Err() == nil {
		u := s.watcher.WaitForEventSince(ctx, startID, warnID, finishID, 0)
		startID, warnID, finishID = u.StartID, u.WarnID, u.FinishID

		// The first observation seeds the baseline without alerting on
		// pre-existing conditions.
		if !first && (u.NumWarning > prevWarning || u.NumError > prevError) {
			s.alert(ctx, u)
		}
		prevWarning, prevError = u.NumWarning, u.NumError
		first = false
	}
}

func (s *Service) alert(ctx context.Context, u monitor.Update) {
	if !s.limiter.Allow() {
		s.log.Debug("alert suppressed by rate limit")
		return
	}
	msg := composeAlert(u)
	if msg == "" {
		return
	}
	if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), msg); err != nil {
		s.log.Error("alert send failed", logx.Err(err))
	}
}

// composeAlert lists every job currently in a warning or error state.
func composeAlert(u monitor.Update) string {
	type line struct {
		id int64
		s  string
	}
	var errors, warnings []line
	for id, st := range u.Status {
		if st.Status == nil || st.Status.IsOK() {
			continue
		}
		l := line{id, fmt.Sprintf("job %d: %s (reliability %d%%)", id, st.Status.String(), st.Reliability)}
		if st.Status.IsWarning() {
			warnings = append(warnings, l)
		} else {
			errors = append(errors, l)
		}
	}
	if len(errors) == 0 && len(warnings) == 0 {
		return ""
	}

	sort.Slice(errors, func(i, j int) bool { return errors[i].id < errors[j].id })
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].id < warnings[j].id })

	var b strings.Builder
	fmt.Fprintf(&b, "cron monitor: %d error(s), %d warning(s)\n", u.NumError, u.NumWarning)
	for _, l := range errors {
		b.WriteString("✗ " + l.s + "\n")
	}
	for _, l := range warnings {
		b.WriteString("⚠ " + l.s + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
