package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// statusDirectory is an in-memory meta.Directory keyed by tenant ID.
type statusDirectory struct {
	mu       sync.Mutex
	statuses map[string]meta.Status
	readErr  error
	writeErr error
	reads    int
}

func (d *statusDirectory) FindByHost(context.Context, string) (*meta.Record, error) {
	return nil, meta.ErrNotFound
}

func (d *statusDirectory) Status(_ context.Context, id string) (meta.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.readErr != nil {
		return "", d.readErr
	}
	s, ok := d.statuses[id]
	if !ok {
		return "", meta.ErrNotFound
	}
	return s, nil
}

func (d *statusDirectory) SetStatus(_ context.Context, id string, s meta.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	if _, ok := d.statuses[id]; !ok {
		return meta.ErrNotFound
	}
	d.statuses[id] = s
	return nil
}

func (d *statusDirectory) HostsByTenant(context.Context, string) ([]string, error) {
	return nil, nil
}

func newTestGate(t *testing.T, dir *statusDirectory) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return New(kv.NewRedisStore(client, "", time.Second), dir, 0, nil), mr
}

func TestCheckCachesStatus(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusTrial}}
	g, mr := newTestGate(t, dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if s := g.Check(ctx, "t-1"); s != meta.StatusTrial {
			t.Fatalf("Check = %q, want trial", s)
		}
	}
	if dir.reads != 1 {
		t.Fatalf("directory reads = %d, want 1", dir.reads)
	}
	if ttl := mr.TTL("tenant:billing:t-1"); ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", ttl, DefaultTTL)
	}

	mr.FastForward(DefaultTTL)
	g.Check(ctx, "t-1")
	if dir.reads != 2 {
		t.Fatalf("expired status not revalidated: reads = %d", dir.reads)
	}
}

func TestUpdateThenCheckSeesNewStatus(t *testing.T) {
	all := []meta.Status{meta.StatusSuspended, meta.StatusActive, meta.StatusCancelled, meta.StatusTrial}
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusActive}}
	g, mr := newTestGate(t, dir)
	ctx := context.Background()

	for _, s := range all {
		g.Check(ctx, "t-1") // populate the cache with the current value
		if err := g.Update(ctx, "t-1", s); err != nil {
			t.Fatalf("Update(%q): %v", s, err)
		}
		if mr.Exists("tenant:billing:t-1") {
			t.Fatal("Update must delete the cache entry")
		}
		if got := g.Check(ctx, "t-1"); got != s {
			t.Fatalf("Check after Update(%q) = %q", s, got)
		}
	}
}

func TestCheckFailsClosed(t *testing.T) {
	dir := &statusDirectory{
		statuses: map[string]meta.Status{"t-1": meta.StatusActive},
		readErr:  errors.New("i/o timeout"),
	}
	g, mr := newTestGate(t, dir)
	ctx := context.Background()

	if s := g.Check(ctx, "t-1"); s != meta.StatusSuspended {
		t.Fatalf("Check with directory down = %q, want suspended", s)
	}
	if mr.Exists("tenant:billing:t-1") {
		t.Fatal("failure result must not be cached")
	}

	dir.readErr = nil
	if s := g.Check(ctx, "t-1"); s != meta.StatusActive {
		t.Fatalf("Check after recovery = %q, want active", s)
	}
}

func TestCheckUnknownTenantIsSuspended(t *testing.T) {
	g, mr := newTestGate(t, &statusDirectory{statuses: map[string]meta.Status{}})
	if s := g.Check(context.Background(), "ghost"); s != meta.StatusSuspended {
		t.Fatalf("Check = %q, want suspended", s)
	}
	if mr.Exists("tenant:billing:ghost") {
		t.Fatal("not-found result must not be cached")
	}
}

func TestCheckServesCacheWhileDirectoryDown(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusActive}}
	g, _ := newTestGate(t, dir)
	ctx := context.Background()

	g.Check(ctx, "t-1")
	dir.readErr = errors.New("down")
	if s := g.Check(ctx, "t-1"); s != meta.StatusActive {
		t.Fatalf("cached status not served: %q", s)
	}
}

func TestCheckIgnoresMalformedCacheValue(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusSuspended}}
	g, mr := newTestGate(t, dir)
	mr.Set("tenant:billing:t-1", "active-ish")

	if s := g.Check(context.Background(), "t-1"); s != meta.StatusSuspended {
		t.Fatalf("Check = %q, want directory value", s)
	}
}

func TestCheckWithCacheDown(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusActive}}
	g, mr := newTestGate(t, dir)
	mr.Close()

	if s := g.Check(context.Background(), "t-1"); s != meta.StatusActive {
		t.Fatalf("Check = %q, want active from directory", s)
	}
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusActive}}
	g, _ := newTestGate(t, dir)

	if err := g.Update(context.Background(), "t-1", meta.Status("paused")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	if dir.statuses["t-1"] != meta.StatusActive {
		t.Fatal("directory must not change")
	}
}

func TestUpdateDirectoryFailureKeepsCache(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusActive}}
	g, mr := newTestGate(t, dir)
	ctx := context.Background()

	g.Check(ctx, "t-1")
	dir.writeErr = errors.New("deadlock")
	if err := g.Update(ctx, "t-1", meta.StatusSuspended); err == nil {
		t.Fatal("expected error")
	}
	if !mr.Exists("tenant:billing:t-1") {
		t.Fatal("cache must not be invalidated when the directory write fails")
	}
}

func TestUpdateReportsInvalidationFailure(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusActive}}
	g, mr := newTestGate(t, dir)
	mr.Close()

	if err := g.Update(context.Background(), "t-1", meta.StatusSuspended); err == nil {
		t.Fatal("expected invalidation error")
	}
	if dir.statuses["t-1"] != meta.StatusSuspended {
		t.Fatal("directory write should have happened first")
	}
}

func TestEvents(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusTrial}}
	g, mr := newTestGate(t, dir)
	ctx := context.Background()

	seq := []meta.Status{meta.StatusActive, meta.StatusSuspended}
	for _, s := range seq {
		if err := g.Update(ctx, "t-1", s); err != nil {
			t.Fatal(err)
		}
	}
	evs, err := g.Events(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Old != meta.StatusActive || evs[0].New != meta.StatusSuspended || evs[0].Type != EventStatusChange {
		t.Fatalf("newest event = %+v", evs[0])
	}
	if evs[1].Old != meta.StatusTrial || evs[1].New != meta.StatusActive {
		t.Fatalf("oldest event = %+v", evs[1])
	}
	if ttl := mr.TTL("tenant:billing:events:t-1"); ttl != 24*time.Hour {
		t.Fatalf("events ttl = %v", ttl)
	}
}

func TestEventsCapped(t *testing.T) {
	dir := &statusDirectory{statuses: map[string]meta.Status{"t-1": meta.StatusTrial}}
	g, _ := newTestGate(t, dir)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		s := meta.StatusActive
		if i%2 == 1 {
			s = meta.StatusSuspended
		}
		if err := g.Update(ctx, "t-1", s); err != nil {
			t.Fatal(err)
		}
	}
	evs, err := g.Events(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != maxEvents {
		t.Fatalf("events = %d, want %d", len(evs), maxEvents)
	}
	if evs[0].New != meta.StatusActive {
		t.Fatalf("newest event should be the last update, got %+v", evs[0])
	}
}

func TestCanAccess(t *testing.T) {
	want := map[meta.Status]bool{
		meta.StatusActive:    true,
		meta.StatusTrial:     true,
		meta.StatusSuspended: false,
		meta.StatusCancelled: false,
		meta.Status(""):      false,
	}
	for s, ok := range want {
		if CanAccess(s) != ok {
			t.Errorf("CanAccess(%q) = %v", s, !ok)
		}
	}
}

func TestFailurePolicy(t *testing.T) {
	g, _ := newTestGate(t, &statusDirectory{})
	if g.FailurePolicy() != PolicyFailClosed {
		t.Fatalf("policy = %q", g.FailurePolicy())
	}
}
