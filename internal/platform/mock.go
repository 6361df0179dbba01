package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockPort is an in-memory venue for tests and paper trading. Fills are
// instant and full unless a hook overrides them.
type MockPort struct {
	mu        sync.Mutex
	balance   Balance
	positions map[string]VenuePosition
	dayPnL    float64

	// OpenHook, when set, intercepts Open calls.
	OpenHook func(req OrderRequest) (OrderAck, error)
	// FailNext injects one transient error into the next call.
	FailNext error

	opens  []OrderRequest
	closes []string
}

// NewMockPort creates a mock venue with the given starting equity.
func NewMockPort(equity float64) *MockPort {
	return &MockPort{
		balance:   Balance{Equity: equity, Available: equity, Currency: "USDT", FetchedAt: time.Now().UTC()},
		positions: make(map[string]VenuePosition),
	}
}

func (m *MockPort) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *MockPort) Balance(ctx context.Context) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return Balance{}, err
	}
	return m.balance, nil
}

func (m *MockPort) Positions(ctx context.Context) ([]VenuePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]VenuePosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockPort) PortfolioBreakdown(ctx context.Context) (Breakdown, error) {
	positions, err := m.Positions(ctx)
	if err != nil {
		return Breakdown{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Breakdown{Balance: m.balance, Positions: positions, DayPnL: m.dayPnL}, nil
}

func (m *MockPort) Open(ctx context.Context, req OrderRequest) (OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return OrderAck{}, err
	}
	if m.OpenHook != nil {
		return m.OpenHook(req)
	}
	if req.Size <= 0 {
		return OrderAck{}, &PermanentError{Code: "invalid_size", Err: fmt.Errorf("size %f", req.Size)}
	}

	m.opens = append(m.opens, req)
	venueID := uuid.NewString()
	m.positions[venueID] = VenuePosition{
		VenueID:    venueID,
		Instrument: req.Instrument,
		Side:       req.Side,
		EntryPrice: 0,
		Size:       req.Size,
		OpenedAt:   time.Now().UTC(),
	}
	return OrderAck{
		VenueOrderID: venueID,
		FilledSize:   req.Size,
		PlacedAt:     time.Now().UTC(),
	}, nil
}

func (m *MockPort) Close(ctx context.Context, venueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.positions[venueID]; !ok {
		return &PermanentError{Code: "unknown_position", Err: fmt.Errorf("id %s", venueID)}
	}
	delete(m.positions, venueID)
	m.closes = append(m.closes, venueID)
	return nil
}

// SetBalance replaces the account snapshot.
func (m *MockPort) SetBalance(b Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = b
}

// SetDayPnL sets the reported day P&L.
func (m *MockPort) SetDayPnL(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayPnL = v
}

// SeedPosition installs a position as if it pre-existed.
func (m *MockPort) SeedPosition(p VenuePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.VenueID == "" {
		p.VenueID = uuid.NewString()
	}
	m.positions[p.VenueID] = p
}

// DropPosition removes a position without recording a close, simulating an
// externally closed trade.
func (m *MockPort) DropPosition(venueID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, venueID)
}

// Opens returns the order requests received so far.
func (m *MockPort) Opens() []OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderRequest(nil), m.opens...)
}

// Closes returns the venue ids closed so far.
func (m *MockPort) Closes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closes...)
}
