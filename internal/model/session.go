package model

import "time"

// SessionState is the persisted wallet connection.
type SessionState struct {
	Account     string    `json:"account"`
	Network     string    `json:"network"`
	ConnectedAt time.Time `json:"connected_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Connected reports whether an account is attached to the session.
func (s SessionState) Connected() bool { return s.Account != "" }
