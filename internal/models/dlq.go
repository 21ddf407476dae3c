package models

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no retry will ever run for an entry in this status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusExpired
}

// Target names the backend a write was aimed at, e.g. "elasticsearch".
type Target string

// Operation names the kind of write, e.g. "upsert_finding".
type Operation string

// Key identifies a retry handler.
type Key struct {
	Target    Target
	Operation Operation
}

func (k Key) String() string { return string(k.Target) + ":" + string(k.Operation) }

// Entry is one failed write held in the dead_letter_queue table. Payload is
// stored as text so SQLite keeps scalar JSON such as 42 or true verbatim
// instead of coercing it to a number.
type Entry struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Operation   Operation      `gorm:"not null;index:idx_dlq_target,priority:2" json:"operation"`
	Target      Target         `gorm:"not null;index:idx_dlq_target,priority:1" json:"target"`
	Payload     datatypes.JSON `gorm:"type:text;not null" json:"payload"`
	Error       string         `gorm:"not null" json:"error"`
	Status      Status         `gorm:"not null;index:idx_dlq_status" json:"status"`
	RetryCount  int            `gorm:"not null" json:"retry_count"`
	MaxRetries  int            `gorm:"not null" json:"max_retries"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	LastRetryAt *time.Time     `json:"last_retry_at"`
	NextRetryAt *time.Time     `gorm:"index:idx_dlq_next_retry" json:"next_retry_at"`
}

func (Entry) TableName() string { return "dead_letter_queue" }

func (e Entry) Key() Key { return Key{Target: e.Target, Operation: e.Operation} }
