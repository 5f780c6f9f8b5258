package security

import (
	"errors"
	"math"
	"time"
)

// Rule escalates per-subject counts. Below DelayThreshold nothing happens, from
// DelayThreshold the requester waits BaseDelay * count^Exponent after the latest event, and
// from CaptchaThreshold a captcha is required.
type Rule struct {
	Window           time.Duration
	DelayThreshold   int
	CaptchaThreshold int
	BaseDelay        time.Duration
	Exponent         float64
}

// delay returns the wait owed for count events.
func (r Rule) delay(count int) time.Duration {
	seconds := r.BaseDelay.Seconds() * math.Pow(float64(count), r.Exponent)
	return time.Duration(seconds * float64(time.Second))
}

func (r Rule) validate() error {
	if r.Window <= 0 {
		return errors.New("security: rule window must be positive")
	}
	if r.DelayThreshold <= 0 || r.CaptchaThreshold <= r.DelayThreshold {
		return errors.New("security: captcha threshold must exceed a positive delay threshold")
	}
	if r.BaseDelay <= 0 {
		return errors.New("security: base delay must be positive")
	}
	return nil
}

// GlobalRule requires a captcha once Threshold events happened across all subjects within Window.
type GlobalRule struct {
	Window    time.Duration
	Threshold int
}

// Config collects every throttle setting.
type Config struct {
	LoginEnabled bool
	EmailEnabled bool
	Login        Rule
	Email        Rule
	GlobalLogin  []GlobalRule
	GlobalEmail  []GlobalRule
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		LoginEnabled: true,
		EmailEnabled: true,
		Login: Rule{
			Window:           5 * time.Minute,
			DelayThreshold:   3,
			CaptchaThreshold: 5,
			BaseDelay:        2 * time.Second,
			Exponent:         2,
		},
		Email: Rule{
			Window:           time.Hour,
			DelayThreshold:   5,
			CaptchaThreshold: 10,
			BaseDelay:        30 * time.Second,
			Exponent:         1,
		},
		GlobalLogin: []GlobalRule{
			{Window: time.Hour, Threshold: 500},
		},
		GlobalEmail: []GlobalRule{
			{Window: 24 * time.Hour, Threshold: 300},
			{Window: 30 * 24 * time.Hour, Threshold: 1000},
		},
	}
}

// Validate reports inconsistent thresholds.
func (c Config) Validate() error {
	if c.LoginEnabled {
		if err := c.Login.validate(); err != nil {
			return err
		}
	}
	if c.EmailEnabled {
		if err := c.Email.validate(); err != nil {
			return err
		}
	}
	for _, g := range append(append([]GlobalRule{}, c.GlobalLogin...), c.GlobalEmail...) {
		if g.Window <= 0 || g.Threshold <= 0 {
			return errors.New("security: global rules need a positive window and threshold")
		}
	}
	return nil
}

// Retention is the widest window any rule looks back over. Older records never affect a check.
func (c Config) Retention() time.Duration {
	longest := c.Login.Window
	if c.Email.Window > longest {
		longest = c.Email.Window
	}
	for _, g := range append(append([]GlobalRule{}, c.GlobalLogin...), c.GlobalEmail...) {
		if g.Window > longest {
			longest = g.Window
		}
	}
	return longest
}
