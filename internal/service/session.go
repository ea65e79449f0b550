package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/platform/iqoption"
)

// Authenticator is the REST side of the broker session.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (iqoption.LoginResult, error)
	ChangeBalance(ctx context.Context, balanceID int64) error
	GetProfile(ctx context.Context) (domain.Profile, error)
}

// Channel is the websocket side of the broker session.
type Channel interface {
	Open(ctx context.Context, ssid string, d iqoption.Dispatcher) error
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	Connected() bool
	Stop() error
}

// SessionOptions configures a SessionManager.
type SessionOptions struct {
	Username string
	Password string
	// Account is switched to after login when set.
	Account          domain.AccountType
	InstrumentTypes  []domain.InstrumentType
	TopAssetTypes    []domain.InstrumentType
	HandshakeTimeout time.Duration
	// LockTTL bounds the single-session lock; only used with a LockManager.
	LockTTL time.Duration
}

// SessionManager owns the credential and balance bookkeeping and drives the
// channel through login, handshake and bootstrap.
type SessionManager struct {
	auth    Authenticator
	channel Channel
	cmds    *iqoption.Commands
	locks   domain.LockManager
	opts    SessionOptions
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	profile   domain.Profile
	startedAt time.Time
	unlock    func()
}

// NewSessionManager creates a SessionManager. locks may be nil.
func NewSessionManager(auth Authenticator, channel Channel, cmds *iqoption.Commands, locks domain.LockManager, opts SessionOptions, logger *slog.Logger) *SessionManager {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	return &SessionManager{
		auth:    auth,
		channel: channel,
		cmds:    cmds,
		locks:   locks,
		opts:    opts,
		logger:  logger.With(slog.String("component", "session")),
		now:     time.Now,
	}
}

// Start logs in, opens the channel with d as its dispatcher, waits for the
// handshake and requests the reference data and positions.
func (s *SessionManager) Start(ctx context.Context, d iqoption.Dispatcher) (err error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "session:"+s.opts.Username, s.opts.LockTTL)
		if err != nil {
			return fmt.Errorf("session: lock: %w", err)
		}
		s.mu.Lock()
		s.unlock = unlock
		s.mu.Unlock()
		defer func() {
			if err != nil {
				s.release()
			}
		}()
	}

	login, err := s.auth.Login(ctx, s.opts.Username, s.opts.Password)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.setProfile(login.Profile)
	s.logger.InfoContext(ctx, "logged in",
		slog.String("account", string(login.Profile.ActiveAccount)),
		slog.String("currency", login.Profile.Currency),
	)

	if s.opts.Account != "" && s.opts.Account != login.Profile.ActiveAccount {
		if err := s.ChangeAccount(ctx, s.opts.Account); err != nil {
			return err
		}
	}

	if err := s.channel.Open(ctx, login.SSID, d); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := s.awaitHandshake(ctx); err != nil {
		_ = s.channel.Stop()
		return err
	}

	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	return s.Bootstrap()
}

func (s *SessionManager) awaitHandshake(ctx context.Context) error {
	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-s.channel.Ready():
		return nil
	case <-s.channel.Done():
		if err := s.channel.Err(); err != nil {
			return fmt.Errorf("session: handshake: %w", err)
		}
		return fmt.Errorf("session: handshake: %w", domain.ErrSessionClosed)
	case <-timer.C:
		return fmt.Errorf("session: handshake timed out after %s: %w", s.opts.HandshakeTimeout, domain.ErrNotConnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bootstrap requests instruments, top assets and open positions. Every
// request is attempted; failures are joined.
func (s *SessionManager) Bootstrap() error {
	var errs []error
	for _, typ := range s.opts.InstrumentTypes {
		errs = append(errs, s.cmds.GetInstruments(typ))
	}
	for _, typ := range s.opts.TopAssetTypes {
		errs = append(errs, s.cmds.GetTopAssets(typ))
	}
	errs = append(errs, s.RequestPositions(""))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: bootstrap: %w", err)
	}
	return nil
}

// RequestPositions asks for the active balance's positions of typ, or of
// every configured instrument type when typ is empty.
func (s *SessionManager) RequestPositions(typ domain.InstrumentType) error {
	types := s.opts.InstrumentTypes
	if typ != "" {
		types = []domain.InstrumentType{typ}
	}
	balanceID := s.ActiveBalanceID()

	var errs []error
	for _, t := range types {
		errs = append(errs, s.cmds.GetPositions(balanceID, t))
	}
	return errors.Join(errs...)
}

// ChangeAccount makes acct the active account and refreshes the profile.
func (s *SessionManager) ChangeAccount(ctx context.Context, acct domain.AccountType) error {
	bal, ok := s.Profile().BalanceFor(acct)
	if !ok {
		return fmt.Errorf("session: change account %q: %w", acct, domain.ErrNotFound)
	}
	if err := s.auth.ChangeBalance(ctx, bal.ID); err != nil {
		return fmt.Errorf("session: change account %q: %w", acct, err)
	}
	profile, err := s.auth.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("session: refresh profile: %w", err)
	}
	s.setProfile(profile)
	s.logger.InfoContext(ctx, "account changed", slog.String("account", string(profile.ActiveAccount)))
	return nil
}

// ApplyBalance applies a balance pushed on a profile frame.
func (s *SessionManager) ApplyBalance(u domain.BalanceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var acct domain.AccountType
	switch u.BalanceID {
	case s.profile.Real.ID:
		acct = domain.AccountReal
	case s.profile.Practice.ID:
		acct = domain.AccountPractice
	default:
		s.logger.Warn("balance update for unknown balance", slog.Int64("balance_id", u.BalanceID))
		return
	}

	if u.SwitchActive {
		s.profile.Balance = u.Balance
		s.profile.ActiveAccount = acct
		return
	}
	if acct == domain.AccountReal {
		s.profile.Real.Amount = u.Balance
	} else {
		s.profile.Practice.Amount = u.Balance
	}
}

// Profile returns a copy of the current account snapshot.
func (s *SessionManager) Profile() domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// ActiveBalanceID returns the balance id of the active account.
func (s *SessionManager) ActiveBalanceID() int64 {
	return s.Profile().ActiveBalanceID()
}

// Connected reports whether the channel is live.
func (s *SessionManager) Connected() bool {
	return s.channel.Connected()
}

// StartedAt returns when the handshake completed, zero before.
func (s *SessionManager) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Wait blocks until the channel terminates or ctx is done. A channel that
// ends for any reason other than Stop yields ErrSessionClosed.
func (s *SessionManager) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.channel.Done():
		if err := s.channel.Err(); err != nil {
			return fmt.Errorf("session: %w: %w", domain.ErrSessionClosed, err)
		}
		return nil
	}
}

// Stop closes the channel and releases the session lock.
func (s *SessionManager) Stop() error {
	defer s.release()
	if err := s.channel.Stop(); err != nil {
		return fmt.Errorf("session: stop: %w", err)
	}
	return nil
}

func (s *SessionManager) setProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

func (s *SessionManager) release() {
	s.mu.Lock()
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()
	if unlock != nil {
		unlock()
	}
}
