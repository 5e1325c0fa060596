// Package eventlog keeps a bounded history of received UPS notifications.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-ups-client/internal/models"
)

// ErrClosed is returned by a store after Close
var ErrClosed = errors.New("eventlog: store closed")

// Entry is one stored notification
type Entry struct {
	ID                     string                 `json:"id"`
	ReceivedAt             time.Time              `json:"received_at"`
	EventTypeID            string                 `json:"event_type_id"`
	AffectedSOPInstanceUID string                 `json:"affected_sop_instance_uid"`
	Payload                map[string]interface{} `json:"payload"`
}

// NewEntry builds a store entry from a parsed event
func NewEntry(ev *models.Event) Entry {
	return Entry{
		ID:                     uuid.NewString(),
		ReceivedAt:             ev.ReceivedAt,
		EventTypeID:            ev.EventTypeID(),
		AffectedSOPInstanceUID: ev.AffectedSOPInstanceUID(),
		Payload:                ev.Payload,
	}
}

// Store defines the event log interface
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries, newest first
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Options bounds what a store retains
type Options struct {
	Capacity int
	TTL      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 1000
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	return o
}
