package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accountA = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	accountB = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
)

func TestValidateAccount(t *testing.T) {
	tests := []struct {
		name    string
		account string
		valid   bool
	}{
		{"valid", accountA, true},
		{"valid issuer", accountB, true},
		{"empty", "", false},
		{"too short", "GBRPYHIL2CI3", false},
		{"secret seed prefix", "S" + accountA[1:], false},
		{"lowercase", "g" + accountA[1:], false},
		{"bad alphabet", accountA[:55] + "1", false},
		{"bad checksum", accountA[:55] + "A", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccount(tt.account)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAccount)
			}
		})
	}
}

func TestManager_ConnectPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	m, err := NewManager(path, "testnet", "", zerolog.Nop())
	require.NoError(t, err)
	_, err = m.Account()
	require.ErrorIs(t, err, ErrNotConnected)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	state, err := m.Connect(accountA)
	require.NoError(t, err)
	assert.Equal(t, accountA, state.Account)
	assert.Equal(t, "testnet", state.Network)
	assert.Equal(t, fixed, state.ConnectedAt)

	reloaded, err := NewManager(path, "testnet", "", zerolog.Nop())
	require.NoError(t, err)
	account, err := reloaded.Account()
	require.NoError(t, err)
	assert.Equal(t, accountA, account)
}

func TestManager_ConnectRejectsInvalid(t *testing.T) {
	m, err := NewManager("", "testnet", "", zerolog.Nop())
	require.NoError(t, err)

	_, err = m.Connect("not-an-account")
	require.ErrorIs(t, err, ErrInvalidAccount)
	assert.False(t, m.State().Connected())
}

func TestManager_Disconnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	m, err := NewManager(path, "testnet", accountB, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, m.State().Connected())

	m.Disconnect()
	_, err = m.Account()
	require.ErrorIs(t, err, ErrNotConnected)

	// the configured default reconnects on restart
	reloaded, err := NewManager(path, "testnet", accountB, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, reloaded.State().Connected())
}

func TestManager_DefaultAccountValidated(t *testing.T) {
	_, err := NewManager("", "testnet", "GBAD", zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidAccount)
}

func TestLoadState_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err := NewManager(path, "testnet", "", zerolog.Nop())
	require.Error(t, err)
}
