package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/platform/iqoption"
	"github.com/alanyoungcy/iqsession/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, username, password string) (iqoption.LoginResult, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(iqoption.LoginResult), args.Error(1)
}

func (m *MockAuthenticator) ChangeBalance(ctx context.Context, balanceID int64) error {
	return m.Called(ctx, balanceID).Error(0)
}

func (m *MockAuthenticator) GetProfile(ctx context.Context) (domain.Profile, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Profile), args.Error(1)
}

// fakeChannel completes the handshake on Open unless hang is set.
type fakeChannel struct {
	mu      sync.Mutex
	ssid    string
	hang    bool
	openErr error
	ready   chan struct{}
	done    chan struct{}
	once    sync.Once
	err     error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{ready: make(chan struct{}), done: make(chan struct{})}
}

func (c *fakeChannel) Open(_ context.Context, ssid string, _ iqoption.Dispatcher) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.ssid = ssid
	if !c.hang {
		close(c.ready)
	}
	return nil
}

func (c *fakeChannel) Ready() <-chan struct{} { return c.ready }
func (c *fakeChannel) Done() <-chan struct{}  { return c.done }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) Stop() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeChannel) failWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// sentFrames records outbound frames.
type sentFrames struct {
	mu     sync.Mutex
	frames []iqoption.Frame
}

func (s *sentFrames) Send(f iqoption.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

// commands returns the command names sent, in order.
func (s *sentFrames) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, f := range s.frames {
		if c, ok := f.Msg.(iqoption.Command); ok {
			names = append(names, c.Name)
		}
	}
	return names
}

// body returns the JSON body of the i-th frame.
func (s *sentFrames) body(i int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, _ := json.Marshal(s.frames[i].Msg.(iqoption.Command).Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

type fakeLocks struct {
	held     map[string]bool
	released []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		delete(l.held, key)
		l.released = append(l.released, key)
	}, nil
}

func newStores() iqoption.Stores {
	return iqoption.Stores{
		Positions: memory.NewPositionStore(),
		Catalog:   memory.NewInstrumentCatalog(),
		Ticks:     memory.NewMarketDataCache(),
		Clock:     &memory.ServerClock{},
	}
}

func testProfile() domain.Profile {
	return domain.Profile{
		Real:          domain.Balance{ID: 11, Account: domain.AccountReal, Amount: 100},
		Practice:      domain.Balance{ID: 22, Account: domain.AccountPractice, Amount: 10000},
		ActiveAccount: domain.AccountPractice,
		Balance:       10000,
		Currency:      "USD",
	}
}
