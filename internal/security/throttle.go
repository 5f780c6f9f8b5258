package security

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Store persists and counts throttle records.
type Store interface {
	// Stats counts event records of key created at or after since.
	Stats(ctx context.Context, key string, event EventType, since time.Time) (Stats, error)
	Insert(ctx context.Context, rec Record) error
}

// Observer is notified whenever a check denies a request.
type Observer interface {
	ObserveThrottle(typ SecurityType, delay Delay)
}

// Throttle checks and records login and email events. Checks never write; records are only
// inserted by RecordLogin and RecordEmail. Concurrent attempts may both pass a check before
// either is recorded.
type Throttle struct {
	store    Store
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option customises a Throttle.
type Option func(*Throttle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithObserver installs an observer of denials.
func WithObserver(o Observer) Option {
	return func(t *Throttle) { t.observer = o }
}

// NewThrottle builds a Throttle.
func NewThrottle(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Throttle{store: store, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Check tests one subject against the thresholds of typ. It returns nil or a *SecurityError.
// Store failures deny with a captcha requirement.
func (t *Throttle) Check(ctx context.Context, subjectKey string, typ SecurityType) error {
	var err error
	switch typ {
	case UserLogin:
		err = t.checkSubject(ctx, NormalizeKey(subjectKey), EventLoginFailure, t.cfg.Login, typ)
	case UserEmail:
		err = t.checkSubject(ctx, NormalizeKey(subjectKey), EventEmailSent, t.cfg.Email, typ)
	case GlobalLogin:
		err = t.checkGlobal(ctx, EventLoginFailure, t.cfg.GlobalLogin, typ)
	case GlobalEmail:
		err = t.checkGlobal(ctx, EventEmailSent, t.cfg.GlobalEmail, typ)
	default:
		err = t.failClosed(typ, fmt.Errorf("unknown security type %d", typ))
	}
	if secErr, ok := AsSecurityError(err); ok && t.observer != nil {
		t.observer.ObserveThrottle(secErr.Type, secErr.RemainingDelay)
	}
	return err
}

// CheckLogin runs the email, IP and global login checks in that order.
func (t *Throttle) CheckLogin(ctx context.Context, email, ip string) error {
	if !t.cfg.LoginEnabled {
		return nil
	}
	for _, key := range subjectKeys(email, ip) {
		if err := t.Check(ctx, key, UserLogin); err != nil {
			return err
		}
	}
	return t.Check(ctx, GlobalKey, GlobalLogin)
}

// CheckEmail runs the email, IP and global email checks in that order.
func (t *Throttle) CheckEmail(ctx context.Context, email, ip string) error {
	if !t.cfg.EmailEnabled {
		return nil
	}
	for _, key := range subjectKeys(email, ip) {
		if err := t.Check(ctx, key, UserEmail); err != nil {
			return err
		}
	}
	return t.Check(ctx, GlobalKey, GlobalEmail)
}

// RecordLogin stores the outcome of a login attempt for the email and IP.
func (t *Throttle) RecordLogin(ctx context.Context, email, ip string, success bool) error {
	event := EventLoginFailure
	if success {
		event = EventLoginSuccess
	}
	return t.insert(ctx, event, email, ip)
}

// RecordEmail stores a dispatched email for the recipient and requesting IP.
func (t *Throttle) RecordEmail(ctx context.Context, email, ip string) error {
	return t.insert(ctx, EventEmailSent, email, ip)
}

// insert writes one row per subject plus one GlobalKey row, so aggregate checks count each
// event once however many subjects it carries.
func (t *Throttle) insert(ctx context.Context, event EventType, email, ip string) error {
	now := t.now().UTC()
	for _, key := range append(subjectKeys(email, ip), GlobalKey) {
		if err := t.store.Insert(ctx, Record{SubjectKey: key, Event: event, CreatedAt: now}); err != nil {
			return fmt.Errorf("security: record %s: %w", event, err)
		}
	}
	return nil
}

func (t *Throttle) checkSubject(ctx context.Context, key string, event EventType, rule Rule, typ SecurityType) error {
	if key == "" {
		return nil
	}
	now := t.now()
	stats, err := t.store.Stats(ctx, key, event, now.Add(-rule.Window))
	if err != nil {
		return t.failClosed(typ, err)
	}
	if stats.Count < rule.DelayThreshold {
		return nil
	}
	if stats.Count >= rule.CaptchaThreshold {
		return &SecurityError{RemainingDelay: CaptchaRequired, Type: typ}
	}
	remaining := rule.delay(stats.Count) - now.Sub(stats.Latest)
	if remaining <= 0 {
		return nil
	}
	return &SecurityError{RemainingDelay: WaitSeconds(int(math.Ceil(remaining.Seconds()))), Type: typ}
}

func (t *Throttle) checkGlobal(ctx context.Context, event EventType, rules []GlobalRule, typ SecurityType) error {
	now := t.now()
	for _, rule := range rules {
		stats, err := t.store.Stats(ctx, GlobalKey, event, now.Add(-rule.Window))
		if err != nil {
			return t.failClosed(typ, err)
		}
		if stats.Count >= rule.Threshold {
			return &SecurityError{RemainingDelay: CaptchaRequired, Type: typ}
		}
	}
	return nil
}

func (t *Throttle) failClosed(typ SecurityType, err error) error {
	t.logger.Error("security throttle check failed, denying request", slog.String("type", typ.String()), slog.Any("error", err))
	return &SecurityError{RemainingDelay: CaptchaRequired, Type: typ, cause: err}
}

func subjectKeys(email, ip string) []string {
	keys := make([]string, 0, 3)
	for _, raw := range []string{email, ip} {
		if k := NormalizeKey(raw); k != "" && k != GlobalKey {
			keys = append(keys, k)
		}
	}
	return keys
}
