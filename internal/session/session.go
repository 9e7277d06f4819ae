// Package session tracks the connected wallet: the provider handle, the
// primary (owner) account and the secondary (spender) account.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/permitflow/internal/providers"
)

// Errors.
var (
	ErrNoSession  = errors.New("no active session")
	ErrNoAccounts = errors.New("wallet returned no accounts")
	ErrNoSpender  = errors.New("wallet returned a single account; a second account is needed as spender")
)

// Snapshot is an immutable copy of a connected session.
type Snapshot struct {
	Primary     common.Address
	Secondary   common.Address
	Provider    providers.Provider
	ChainID     *big.Int
	ConnectedAt time.Time
}

// Manager owns the session lifecycle. The zero value is not usable; use New.
type Manager struct {
	mu     sync.RWMutex
	active *Snapshot
	log    *slog.Logger
	now    func() time.Time
}

// New creates a disconnected session manager.
func New(log *slog.Logger) *Manager {
	return &Manager{log: log, now: time.Now}
}

// Connect requests accounts from p. On success the first account becomes the
// primary and the second the secondary. On any failure the session is left
// disconnected and the error is logged and returned. There is no retry.
func (m *Manager) Connect(ctx context.Context, p providers.Provider) (*Snapshot, error) {
	snap, err := m.connect(ctx, p)
	if err != nil {
		m.log.Error("wallet connection failed", "provider", p.Name(), "err", err)
		return nil, err
	}

	m.mu.Lock()
	m.active = snap
	m.mu.Unlock()

	m.log.Info("wallet connected",
		"provider", p.Name(),
		"primary", snap.Primary.Hex(),
		"secondary", snap.Secondary.Hex(),
		"chain_id", snap.ChainID)
	cp := *snap
	return &cp, nil
}

func (m *Manager) connect(ctx context.Context, p providers.Provider) (*Snapshot, error) {
	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("requesting accounts: %w", err)
	}
	switch len(accounts) {
	case 0:
		return nil, ErrNoAccounts
	case 1:
		return nil, fmt.Errorf("%w (%s)", ErrNoSpender, accounts[0].Hex())
	}

	chainID, err := p.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}

	return &Snapshot{
		Primary:     accounts[0],
		Secondary:   accounts[1],
		Provider:    p,
		ChainID:     chainID,
		ConnectedAt: m.now(),
	}, nil
}

// Disconnect clears the session. It is a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.log.Info("wallet disconnected", "primary", m.active.Primary.Hex())
	}
	m.active = nil
}

// Active returns a copy of the current session or ErrNoSession.
func (m *Manager) Active() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil, ErrNoSession
	}
	cp := *m.active
	return &cp, nil
}

// Connected reports whether a session is active.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// Accounts returns the primary and secondary accounts in order.
func (m *Manager) Accounts() ([]common.Address, error) {
	snap, err := m.Active()
	if err != nil {
		return nil, err
	}
	return []common.Address{snap.Primary, snap.Secondary}, nil
}
