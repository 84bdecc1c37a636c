package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionLedgerRecord    = "ledger.record"
	ActionInventoryAdd    = "inventory.add"
	ActionInventoryGet    = "inventory.get"
	ActionInventoryRemove = "inventory.remove"
	ActionReportSent      = "report.sent"
)

// AuditEntry records one user-visible action. Credentials never go here.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}
