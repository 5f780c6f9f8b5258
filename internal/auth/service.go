package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/jobs"
)

// Throttle is the part of security.Throttle used by the auth flows.
type Throttle interface {
	CheckLogin(ctx context.Context, email, ip string) error
	RecordLogin(ctx context.Context, email, ip string, success bool) error
	CheckEmail(ctx context.Context, email, ip string) error
	RecordEmail(ctx context.Context, email, ip string) error
}

// Captcha verifies captcha responses.
type Captcha interface {
	Enabled() bool
	Verify(ctx context.Context, response, remoteIP string) (bool, error)
}

// Options holds optional collaborators of the Service.
type Options struct {
	Captcha    Captcha
	Mailer     jobs.Enqueuer
	Recorder   *activity.Recorder
	Logger     *slog.Logger
	BaseURL    string
	BcryptCost int
	Now        func() time.Time
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	throttle Throttle
	validate *validator.Validate
	opts     Options

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService constructs a new Service.
func NewService(repo Repository, throttle Throttle, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, throttle: throttle, validate: validator.New(), opts: opts}
}

// captchaSolved reports whether a posted captcha response verifies. Verification failures
// count as unsolved.
func (s *Service) captchaSolved(ctx context.Context, response, ip string) bool {
	if s.opts.Captcha == nil || !s.opts.Captcha.Enabled() || response == "" {
		return false
	}
	ok, err := s.opts.Captcha.Verify(ctx, response, ip)
	if err != nil {
		s.opts.Logger.Warn("captcha verification failed", slog.Any("error", err))
		return false
	}
	return ok
}

// compareDummy spends the bcrypt cost for unknown accounts so response times do not reveal
// which emails exist.
func (s *Service) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("caseflow-dummy-password"), s.opts.BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// Login checks the throttle, then the credentials. A solved captcha skips the throttle.
// Throttle denials are returned as *security.SecurityError.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Credentials, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !s.captchaSolved(ctx, req.Captcha, req.IP) {
		if err := s.throttle.CheckLogin(ctx, req.Email, req.IP); err != nil {
			return nil, err
		}
	}

	creds, err := s.repo.FindByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		s.compareDummy(req.Password)
		creds = nil
	case err != nil:
		return nil, fmt.Errorf("find account: %w", err)
	}
	if creds == nil || !creds.Active() || creds.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password)) != nil {
		if err := s.throttle.RecordLogin(ctx, req.Email, req.IP, false); err != nil {
			s.opts.Logger.Warn("record login failure", slog.Any("error", err))
		}
		return nil, shared.ErrInvalidCredentials
	}

	if err := s.throttle.RecordLogin(ctx, req.Email, req.IP, true); err != nil {
		s.opts.Logger.Warn("record login success", slog.Any("error", err))
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.Log(ctx, activity.Entry{UserID: creds.UserID, Action: activity.ActionLogin, Table: "user", RowID: creds.UserID})
	}
	return creds, nil
}

// ForgotPassword sends a reset link when the account exists. The outcome is the same for
// unknown emails so callers cannot probe accounts; only validation and throttle errors
// are returned.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	if !s.captchaSolved(ctx, req.Captcha, req.IP) {
		if err := s.throttle.CheckEmail(ctx, req.Email, req.IP); err != nil {
			return err
		}
	}
	if err := s.throttle.RecordEmail(ctx, req.Email, req.IP); err != nil {
		s.opts.Logger.Warn("record email", slog.Any("error", err))
	}

	creds, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.opts.Logger.Error("find account for reset", slog.Any("error", err))
		}
		return nil
	}
	if !creds.CanReset() {
		return nil
	}
	token := uuid.New()
	if err := s.repo.CreateReset(ctx, token, creds.UserID, s.opts.Now().Add(ResetTokenTTL)); err != nil {
		s.opts.Logger.Error("create reset token", slog.Int64("user_id", creds.UserID), slog.Any("error", err))
		return nil
	}
	if s.opts.Mailer == nil {
		return nil
	}
	link := strings.TrimRight(s.opts.BaseURL, "/") + "/auth/reset-password?token=" + url.QueryEscape(token.String())
	body := fmt.Sprintf("Hello %s,\n\nuse the link below to choose a new password. It expires in %d hours.\n\n%s\n\nIf you did not ask for this, ignore this email.\n",
		creds.FirstName, int(ResetTokenTTL.Hours()), link)
	if _, err := s.opts.Mailer.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: creds.Email, Subject: "Reset your caseflow password", Body: body}); err != nil {
		s.opts.Logger.Error("enqueue reset email", slog.Int64("user_id", creds.UserID), slog.Any("error", err))
	}
	return nil
}

// ResetTokenValid reports whether the token may still be used.
func (s *Service) ResetTokenValid(ctx context.Context, token string) (bool, error) {
	parsed, err := uuid.Parse(token)
	if err != nil {
		return false, nil
	}
	return s.repo.ResetValid(ctx, parsed, s.opts.Now())
}

// ResetPassword consumes the token and stores the new password.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	token, err := uuid.Parse(req.Token)
	if err != nil {
		return ErrInvalidResetToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	var userID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.ConsumeReset(ctx, token, s.opts.Now())
		if err != nil {
			return err
		}
		userID = id
		return repo.SetPassword(ctx, id, string(hash))
	})
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			return err
		}
		return fmt.Errorf("reset password: %w", err)
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.Log(ctx, activity.Entry{UserID: userID, Action: activity.ActionUpdate, Table: "user", RowID: userID, Data: map[string]any{"password": "reset"}})
	}
	return nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// PruneResets removes reset tokens expired before the cutoff.
func (s *Service) PruneResets(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.PruneResets(ctx, before)
}
