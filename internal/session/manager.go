// Package session keeps the connected wallet account as injected state.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"RebalanceSentinel/internal/model"
)

// ErrNotConnected is returned when an operation needs an account and none is connected.
var ErrNotConnected = errors.New("session: no wallet connected")

// Manager guards the wallet session and mirrors it to a JSON file.
// An empty file path keeps the session in memory only.
type Manager struct {
	mu       sync.Mutex
	state    *model.SessionState
	filePath string
	network  string
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager loads the session from disk. When nothing was persisted and
// defaultAccount is set, that account is connected.
func NewManager(filePath, network, defaultAccount string, log zerolog.Logger) (*Manager, error) {
	state, err := LoadState(filePath)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	m := &Manager{
		state:    state,
		filePath: filePath,
		network:  network,
		now:      time.Now,
		log:      log.With().Str("component", "session").Logger(),
	}

	if !state.Connected() && defaultAccount != "" {
		if _, err := m.Connect(defaultAccount); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// State returns a copy of the current session.
func (m *Manager) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state
}

// Account returns the connected account or ErrNotConnected.
func (m *Manager) Account() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Connected() {
		return "", ErrNotConnected
	}
	return m.state.Account, nil
}

// Connect attaches account to the session after validating it.
func (m *Manager) Connect(account string) (model.SessionState, error) {
	if err := ValidateAccount(account); err != nil {
		return model.SessionState{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.state.Account != account {
		m.state.ConnectedAt = now
	}
	m.state.Account = account
	m.state.Network = m.network
	m.state.UpdatedAt = now

	if err := m.save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save session")
	}
	m.log.Info().Str("account", account).Msg("wallet connected")
	return *m.state, nil
}

// Disconnect clears the session.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Account = ""
	m.state.ConnectedAt = time.Time{}
	m.state.UpdatedAt = m.now()

	if err := m.save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save session after disconnect")
	}
	m.log.Info().Msg("wallet disconnected")
}

func (m *Manager) save() error {
	if m.filePath == "" {
		return nil
	}
	return SaveState(m.filePath, m.state)
}
