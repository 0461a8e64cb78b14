// internal/billing/events.go
//
// Short per-tenant history of billing events, kept in the shared store as
// a capped list (`tenant:billing:events:<id>`): the ten newest events,
// expiring a day after the last write.  It exists for support staff
// answering "why was my site offline?", not for auditing.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

const (
	maxEvents = 10
	eventsTTL = 24 * time.Hour
)

// EventStatusChange is the only event type the gate records itself.
const EventStatusChange = "status_change"

// Event is one history item.
type Event struct {
	Type string      `json:"type"`
	Old  meta.Status `json:"old,omitempty"`
	New  meta.Status `json:"new"`
	At   time.Time   `json:"at"`
}

// EventLog reads and writes event lists.
type EventLog struct {
	store kv.Store
	now   func() time.Time
}

func NewEventLog(store kv.Store) *EventLog {
	return &EventLog{store: store, now: time.Now}
}

func eventsKey(tenantID string) string { return "tenant:billing:events:" + tenantID }

// Record prepends ev, stamping At when it is zero.
func (l *EventLog) Record(ctx context.Context, tenantID string, ev Event) error {
	if ev.At.IsZero() {
		ev.At = l.now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return l.store.PushCapped(ctx, eventsKey(tenantID), b, maxEvents, eventsTTL)
}

// List returns the stored events, newest first.  Undecodable items are
// skipped.
func (l *EventLog) List(ctx context.Context, tenantID string) ([]Event, error) {
	items, err := l.store.Range(ctx, eventsKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("billing events for %s: %w", tenantID, err)
	}
	out := make([]Event, 0, len(items))
	for _, it := range items {
		var ev Event
		if json.Unmarshal(it, &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}
