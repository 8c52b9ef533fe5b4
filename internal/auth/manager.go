// Package auth implements the Gateway's Auth Manager: invitation-code
// exchange, custom-token sign-in, scheduled refresh, and local
// persistence of the acquired credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tagbridge/internal/callgroup"
	"tagbridge/internal/logging"
	"tagbridge/internal/scheduler"
)

// RefreshInterval is the scheduled refresh cadence. The credential's
// nominal lifetime is 60 minutes; refreshing at 45 leaves headroom for
// retries before expiry, per spec.md §4.G.
const RefreshInterval = 45 * time.Minute

// refreshJobName is the scheduler.Scheduler job name of the recurring
// refresh schedule.
const refreshJobName = "auth-refresh"

// singleflightKey is the callgroup.Group key: there is exactly one
// credential per process, so every caller collapses onto it.
const singleflightKey = "refresh"

// Credential is the Manager's current, atomically-published view of the
// acquired token.
type Credential struct {
	Token      string
	Location   string
	Company    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager exchanges, refreshes, and persists the Gateway's auth
// credential. The refresh routine is the only mutator; readers go
// through Token/Location/Company/Healthy, all lock-free atomic loads,
// per spec.md §5's "shared read-mostly, atomic swap" requirement.
type Manager struct {
	client         Client
	statePath      string
	invitationCode string

	sched   *scheduler.Scheduler
	group   callgroup.Group[string]
	current atomic.Pointer[Credential]
	healthy atomic.Bool
	logger  *slog.Logger
}

// Config configures a Manager.
type Config struct {
	Client         Client
	StatePath      string
	InvitationCode string
	Scheduler      *scheduler.Scheduler
	Logger         *slog.Logger
}

// New constructs a Manager. Call Start to acquire a credential and
// begin the refresh schedule.
func New(cfg Config) *Manager {
	return &Manager{
		client:         cfg.Client,
		statePath:      cfg.StatePath,
		invitationCode: cfg.InvitationCode,
		sched:          cfg.Scheduler,
		logger:         logging.Default(cfg.Logger).With("component", "auth"),
	}
}

// Start acquires a credential — reusing persisted state if it is less
// than 7 days old, falling back to invitation exchange otherwise — and
// registers the 45-minute refresh job.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	if m.sched != nil {
		if err := m.sched.AddJob(refreshJobName, RefreshInterval, m.scheduledRefresh); err != nil {
			return fmt.Errorf("auth: schedule refresh: %w", err)
		}
	}
	return nil
}

// Stop unregisters the refresh job. The current credential is left in
// place; no explicit sign-out endpoint is specified.
func (m *Manager) Stop() {
	if m.sched != nil {
		m.sched.RemoveJob(refreshJobName)
	}
}

func (m *Manager) acquire(ctx context.Context) error {
	state, err := loadState(m.statePath)
	if err != nil {
		m.logger.Warn("failed to read persisted auth state, falling back to invitation exchange", "error", err)
		state = State{}
	}

	if state.fresh(time.Now()) {
		if err := m.reuse(ctx, state); err == nil {
			return nil
		}
		m.logger.Warn("failed to reuse persisted auth state, clearing and exchanging invitation", "error", err)
		if err := clearState(m.statePath); err != nil {
			m.logger.Warn("failed to clear stale auth state", "error", err)
		}
	}

	return m.exchange(ctx)
}

// reuse attempts sign-in via refresh using a persisted token.
func (m *Manager) reuse(ctx context.Context, state State) error {
	result, err := m.client.RefreshToken(ctx, state.Token)
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.New("auth: refresh reported failure")
	}
	return m.publish(state.Location, state.Company, result.CustomToken, result.ExpiresIn)
}

func (m *Manager) exchange(ctx context.Context) error {
	result, err := m.client.ValidateInvitation(ctx, m.invitationCode)
	if err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("auth: validate invitation: %w", err)
	}
	if !result.Success {
		m.healthy.Store(false)
		return errors.New("auth: invitation rejected")
	}
	return m.publish(result.LocationName, result.CompanyID, result.CustomToken, result.ExpiresIn)
}

func (m *Manager) publish(location, company, token string, expiresIn int) error {
	now := time.Now()
	expiresAt := now.Add(time.Duration(expiresIn) * time.Second)
	if exp, err := expiryOf(token); err == nil {
		expiresAt = exp
	} else {
		m.logger.Debug("could not cross-check token expiry from claims, trusting expiresIn", "error", err)
	}

	m.current.Store(&Credential{
		Token:      token,
		Location:   location,
		Company:    company,
		AcquiredAt: now,
		ExpiresAt:  expiresAt,
	})
	m.healthy.Store(true)

	if err := saveState(m.statePath, State{Token: token, Location: location, Company: company, AcquiredAt: now}); err != nil {
		m.logger.Warn("failed to persist auth state", "error", err)
	}
	m.logger.Info("auth credential acquired", "location", location, "expires_at", expiresAt)
	return nil
}

// scheduledRefresh is the Scheduler task function for refreshJobName.
func (m *Manager) scheduledRefresh() {
	if err := m.Refresh(context.Background()); err != nil {
		m.logger.Error("scheduled token refresh failed", "error", err)
	}
}

// Refresh forces a token refresh, collapsing concurrent callers (e.g.
// several Forwarder workers hitting an auth failure at once) into a
// single in-flight call via callgroup, per SPEC_FULL.md's grounding of
// the teacher's generic single-flight primitive.
func (m *Manager) Refresh(ctx context.Context) error {
	return <-m.group.DoChan(singleflightKey, func() error {
		cred := m.current.Load()
		if cred == nil {
			return m.exchange(ctx)
		}
		result, err := m.client.RefreshToken(ctx, cred.Token)
		if err != nil {
			m.healthy.Store(false)
			return fmt.Errorf("auth: refresh token: %w", err)
		}
		if !result.Success {
			m.healthy.Store(false)
			return errors.New("auth: refresh reported failure")
		}
		return m.publish(cred.Location, cred.Company, result.CustomToken, result.ExpiresIn)
	})
}

// TriggerRefresh performs an out-of-band refresh through the same
// singleflighted Refresh call; the scheduler is not involved. Used by
// the Forwarder on a 401/403-equivalent write failure.
func (m *Manager) TriggerRefresh(ctx context.Context) error {
	return m.Refresh(ctx)
}

// Token returns the current bearer token, or "" if no credential has
// been acquired yet.
func (m *Manager) Token() string {
	if c := m.current.Load(); c != nil {
		return c.Token
	}
	return ""
}

// Location returns the current credential's location name.
func (m *Manager) Location() string {
	if c := m.current.Load(); c != nil {
		return c.Location
	}
	return ""
}

// Company returns the current credential's company ID.
func (m *Manager) Company() string {
	if c := m.current.Load(); c != nil {
		return c.Company
	}
	return ""
}

// Healthy reports whether the last acquire/refresh attempt succeeded,
// surfaced via the Control API's /health auth field.
func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}
