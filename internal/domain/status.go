package domain

import "time"

// ConnectionStatus describes the state of one stream connection.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	// StatusFailed is terminal: the connection hit a protocol-level rejection
	// (e.g. auth) that retrying will not fix. Operator intervention required.
	StatusFailed ConnectionStatus = "failed"
)

// Terminal reports whether the status will not change without intervention.
func (s ConnectionStatus) Terminal() bool {
	return s == StatusFailed
}

// StatusEvent is one observable connection state transition.
type StatusEvent struct {
	Conn   int              `json:"conn"`
	Status ConnectionStatus `json:"status"`
	At     time.Time        `json:"at"`
	Reason string           `json:"reason,omitempty"`
}
