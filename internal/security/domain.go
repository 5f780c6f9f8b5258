// Package security throttles login attempts and outgoing emails. Counts of recent events per
// subject (email address, IP address, or all subjects) escalate from no delay to a timed
// delay to a mandatory captcha.
package security

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// GlobalKey is the subject key aggregating every subject.
const GlobalKey = "global"

// CaptchaToken is the sentinel rendered in place of a delay when a captcha is required.
const CaptchaToken = "captcha"

// SecurityType identifies which threshold was checked.
type SecurityType int

const (
	UserLogin SecurityType = iota + 1
	UserEmail
	GlobalLogin
	GlobalEmail
)

var securityTypeNames = map[SecurityType]string{
	UserLogin:   "user_login",
	UserEmail:   "user_email",
	GlobalLogin: "global_login",
	GlobalEmail: "global_email",
}

func (t SecurityType) String() string {
	if name, ok := securityTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Channel is the throttled channel, login or email, without telling per subject and global
// thresholds apart. Responses carry it in place of the full type.
func (t SecurityType) Channel() string {
	switch t {
	case UserLogin, GlobalLogin:
		return "login"
	case UserEmail, GlobalEmail:
		return "email"
	}
	return "unknown"
}

// MarshalText encodes the type by name.
func (t SecurityType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// EventType is the kind of throttle record.
type EventType string

const (
	EventLoginFailure EventType = "login_failure"
	EventLoginSuccess EventType = "login_success"
	EventEmailSent    EventType = "email_sent"
)

// Record is an append-only throttle log entry.
type Record struct {
	SubjectKey string
	Event      EventType
	CreatedAt  time.Time
}

// Stats summarises the records of one subject and event inside a window.
type Stats struct {
	Count  int
	Latest time.Time
}

// Delay is either a number of seconds to wait or the captcha sentinel.
type Delay struct {
	seconds int
	captcha bool
}

// CaptchaRequired is the delay forcing captcha verification.
var CaptchaRequired = Delay{captcha: true}

// WaitSeconds builds a timed delay.
func WaitSeconds(n int) Delay {
	return Delay{seconds: n}
}

// IsCaptcha reports whether the delay is the captcha sentinel.
func (d Delay) IsCaptcha() bool { return d.captcha }

// Seconds returns the wait in seconds, zero for captcha.
func (d Delay) Seconds() int { return d.seconds }

func (d Delay) String() string {
	if d.captcha {
		return CaptchaToken
	}
	return strconv.Itoa(d.seconds)
}

// MarshalJSON renders the delay as a number or the string "captcha".
func (d Delay) MarshalJSON() ([]byte, error) {
	if d.captcha {
		return json.Marshal(CaptchaToken)
	}
	return json.Marshal(d.seconds)
}

// NormalizeKey lowercases and trims a subject key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
