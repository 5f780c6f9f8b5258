package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
)

const (
	panelLimit     = 10
	assignedWindow = 14 * 24 * time.Hour
)

// ActivitySource provides the user activity panel.
type ActivitySource interface {
	Recent(ctx context.Context, limit int) ([]activity.Item, error)
}

// Service loads dashboards and persists panel settings.
type Service struct {
	repo      Repository
	evaluator *authz.Evaluator
	activity  ActivitySource
	cache     *Cache
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the dependencies. cache and activity may be nil.
func NewService(repo Repository, evaluator *authz.Evaluator, activity ActivitySource, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, evaluator: evaluator, activity: activity, cache: cache, logger: logger, now: time.Now}
}

func resource(userID int64) authz.Resource {
	return authz.OwnedBy(authz.KindDashboard, userID, userID)
}

// States returns the panel configuration of the caller. Panels default to enabled; the
// activity panel is only available to callers allowed to read user_activity.
func (s *Service) States(ctx context.Context, p authz.Principal) ([]PanelState, error) {
	if err := s.evaluator.Require(p, authz.Can(authz.ActionRead), resource(p.UserID)); err != nil {
		return nil, err
	}
	settings, err := s.repo.Settings(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load panel settings: %w", err)
	}
	activityAllowed, err := s.evaluator.Allowed(p, authz.CanColumn(authz.ActionRead, string(PanelUserActivity)), resource(p.UserID))
	if err != nil {
		return nil, err
	}
	states := make([]PanelState, 0, len(Panels))
	for _, panel := range Panels {
		enabled, ok := settings[panel]
		if !ok {
			enabled = true
		}
		available := panel != PanelUserActivity || activityAllowed
		states = append(states, PanelState{Panel: panel, Label: panel.Label(), Enabled: enabled, Available: available})
	}
	return states, nil
}

// Load fetches every enabled panel concurrently.
func (s *Service) Load(ctx context.Context, p authz.Principal) (*Dashboard, error) {
	states, err := s.States(ctx, p)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Panels: states}
	includeHidden, err := s.evaluator.Allowed(p, authz.CanColumn(authz.ActionRead, "hidden"), authz.Unowned(authz.KindNote, 0))
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	if d.Enabled(PanelUnassignedClients) {
		g.Go(func() error {
			return s.shared(ctx, PanelUnassignedClients, &d.UnassignedClients, func(ctx context.Context) (any, error) {
				return s.repo.UnassignedClients(ctx, panelLimit)
			})
		})
	}
	if d.Enabled(PanelMyClients) {
		g.Go(func() error {
			items, err := s.repo.ClientsOf(ctx, p.UserID, panelLimit)
			if err != nil {
				return fmt.Errorf("%s: %w", PanelMyClients, err)
			}
			d.MyClients = items
			return nil
		})
	}
	if d.Enabled(PanelRecentlyAssigned) {
		g.Go(func() error {
			return s.shared(ctx, PanelRecentlyAssigned, &d.RecentlyAssigned, func(ctx context.Context) (any, error) {
				return s.repo.RecentlyAssigned(ctx, s.now().Add(-assignedWindow), panelLimit)
			})
		})
	}
	if d.Enabled(PanelRecentNotes) {
		g.Go(func() error {
			items, err := s.repo.RecentNotes(ctx, p.UserID, includeHidden, panelLimit)
			if err != nil {
				return fmt.Errorf("%s: %w", PanelRecentNotes, err)
			}
			d.RecentNotes = items
			return nil
		})
	}
	if d.Enabled(PanelUserActivity) && s.activity != nil {
		g.Go(func() error {
			items, err := s.activity.Recent(ctx, panelLimit)
			if err != nil {
				return fmt.Errorf("%s: %w", PanelUserActivity, err)
			}
			d.UserActivity = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}
	return d, nil
}

// shared serves a panel whose content is the same for every user from the cache. Redis
// failures fall back to the loader.
func (s *Service) shared(ctx context.Context, panel Panel, dest *[]ClientItem, loader func(context.Context) (any, error)) error {
	var loadErr error
	load := func(ctx context.Context) (any, error) {
		v, err := loader(ctx)
		loadErr = err
		return v, err
	}
	key, err := s.cache.BuildKey(ctx, string(panel), strconv.Itoa(panelLimit))
	if err == nil {
		err = s.cache.FetchJSON(ctx, key, dest, load)
	}
	switch {
	case err == nil:
		return nil
	case loadErr != nil:
		return fmt.Errorf("%s: %w", panel, loadErr)
	}
	s.logger.Warn("dashboard cache unavailable", slog.String("panel", string(panel)), slog.Any("error", err))
	value, err := loader(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", panel, err)
	}
	*dest = value.([]ClientItem)
	return nil
}

// TogglePanel shows or hides a panel on the dashboard of userID.
func (s *Service) TogglePanel(ctx context.Context, p authz.Principal, userID int64, panel Panel, on bool) error {
	if !panel.Valid() {
		return fmt.Errorf("%w: unknown panel %q", shared.ErrInvalidInput, panel)
	}
	if err := s.evaluator.Require(p, authz.Can(authz.ActionUpdate), resource(userID)); err != nil {
		return err
	}
	if err := s.repo.SaveSetting(ctx, userID, panel, on); err != nil {
		return fmt.Errorf("save panel setting: %w", err)
	}
	return nil
}

// Invalidate drops the cached shared panels. It is called after client mutations.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
