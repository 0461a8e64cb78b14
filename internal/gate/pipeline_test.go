package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yanizio/tenantgate/internal/billing"
	"github.com/yanizio/tenantgate/internal/kv"
	"github.com/yanizio/tenantgate/internal/metrics"
	"github.com/yanizio/tenantgate/internal/ratelimit"
	"github.com/yanizio/tenantgate/internal/requestinfo"
	"github.com/yanizio/tenantgate/internal/tenant"
	"github.com/yanizio/tenantgate/internal/tenant/meta"
)

// fakeDirectory serves fixed records and counts calls.
type fakeDirectory struct {
	mu          sync.Mutex
	records     []*meta.Record
	statusErr   error
	hostCalls   int
	statusCalls int
}

func (d *fakeDirectory) FindByHost(_ context.Context, host string) (*meta.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hostCalls++
	for _, r := range d.records {
		if r.Host == host {
			cp := *r
			return &cp, nil
		}
	}
	return nil, meta.ErrNotFound
}

func (d *fakeDirectory) Status(_ context.Context, id string) (meta.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusCalls++
	if d.statusErr != nil {
		return "", d.statusErr
	}
	for _, r := range d.records {
		if r.ID == id {
			return r.Status, nil
		}
	}
	return "", meta.ErrNotFound
}

func (d *fakeDirectory) SetStatus(context.Context, string, meta.Status) error { return nil }

func (d *fakeDirectory) HostsByTenant(context.Context, string) ([]string, error) { return nil, nil }

func record(id, host string, tier meta.Tier, status meta.Status) *meta.Record {
	return &meta.Record{
		ID:        id,
		Host:      host,
		Tier:      tier,
		Status:    status,
		Config:    meta.SiteConfig{Identity: meta.Identity{SiteName: "Site " + id}},
		RawConfig: json.RawMessage(`{ "identity": { "siteName": "Site ` + id + `" } }`),
	}
}

type harness struct {
	mr       *miniredis.Miniredis
	dir      *fakeDirectory
	pipeline *Pipeline
	handler  http.Handler
	seen     *http.Request
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	store := kv.NewRedisStore(client, "", time.Second)

	dir := &fakeDirectory{records: []*meta.Record{
		record("t-a", "client-a.example.com", meta.TierStarter, meta.StatusActive),
		record("t-b", "client-b.example.com", meta.TierStarter, meta.StatusSuspended),
		record("t-c", "client-c.example.com", meta.TierStarter, meta.StatusCancelled),
		record("t-d", "client-d.example.com", meta.TierEnterprise, meta.StatusTrial),
	}}

	h := &harness{mr: mr, dir: dir}
	h.pipeline = New(
		tenant.NewResolver(store, dir, nil, tenant.DefaultOptions(), nil),
		billing.New(store, dir, 0, nil),
		ratelimit.New(store, ratelimit.DefaultPolicies(), nil),
		Options{
			Routes:        map[string]string{"/api/contact": ratelimit.EndpointContactForm},
			BillingExempt: []string{"/billing"},
		},
		nil,
	)
	h.handler = h.pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.seen = r
		w.WriteHeader(http.StatusOK)
	}))
	return h
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	h.seen = nil
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

func get(host, path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
}

func (h *harness) rateKeys() []string {
	var out []string
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, "rl:") {
			out = append(out, k)
		}
	}
	return out
}

func TestKnownActiveTenantIsForwarded(t *testing.T) {
	h := newHarness(t)

	d := h.pipeline.Evaluate(get("client-a.example.com", "/"))
	want := []State{StateStart, StateHostNormalized, StateTenantResolved, StateBillingChecked, StateRateChecked, StateForwarded}
	if !reflect.DeepEqual(d.Trace, want) {
		t.Fatalf("trace = %v, want %v", d.Trace, want)
	}
	if d.Tenant.ID != "t-a" || d.Billing != meta.StatusActive || !d.Rate.Allowed {
		t.Fatalf("decision = %+v", d)
	}

	w := h.do(get("client-a.example.com", "/pricing"))
	if w.Code != http.StatusOK || h.seen == nil {
		t.Fatalf("status = %d, downstream reached = %v", w.Code, h.seen != nil)
	}
	if ten := tenant.FromContext(h.seen.Context()); ten == nil || ten.ID != "t-a" {
		t.Fatalf("tenant not in context: %+v", ten)
	}
	if h.seen.Header.Get(HeaderTenantID) != "t-a" || h.seen.Header.Get(HeaderBillingStatus) != "active" {
		t.Fatalf("tenant headers = %v", h.seen.Header)
	}
	if got := h.seen.Header.Get(HeaderTenantConfig); got != `{"identity":{"siteName":"Site t-a"}}` {
		t.Fatalf("config header = %q", got)
	}
	if w.Header().Get("X-RateLimit-Limit") != "50" || w.Header().Get("X-RateLimit-Remaining") != "48" {
		t.Fatalf("rate headers = %v", w.Header())
	}
}

func TestTrialTenantIsForwarded(t *testing.T) {
	h := newHarness(t)
	if w := h.do(get("client-d.example.com", "/")); w.Code != http.StatusOK {
		t.Fatalf("trial tenant status = %d", w.Code)
	}
}

func TestSuspendedTenantBlockedRegardlessOfRateLimit(t *testing.T) {
	h := newHarness(t)
	key := "rl:starter:" + ratelimit.Key("t-b", "192.0.2.1", "")
	h.mr.Set(key, "100000")
	h.mr.SetTTL(key, time.Minute)

	d := h.pipeline.Evaluate(get("client-b.example.com", "/"))
	if d.State != StateBlockedSuspended {
		t.Fatalf("state = %v", d.State)
	}
	for _, s := range d.Trace {
		if s == StateRateChecked {
			t.Fatal("rate limit consulted for a suspended tenant")
		}
	}

	w := h.do(get("client-b.example.com", "/"))
	if w.Code != http.StatusPaymentRequired || h.seen != nil {
		t.Fatalf("status = %d, downstream reached = %v", w.Code, h.seen != nil)
	}
	if !strings.Contains(w.Body.String(), "Site t-b is temporarily unavailable") {
		t.Fatalf("body = %s", w.Body.String())
	}
	if v, _ := h.mr.Get(key); v != "100000" {
		t.Fatalf("counter changed to %s", v)
	}
}

func TestBillingExemptPathReachesSuspendedTenant(t *testing.T) {
	h := newHarness(t)

	d := h.pipeline.Evaluate(get("client-b.example.com", "/billing/invoices"))
	if d.State != StateForwarded || !d.Exempt {
		t.Fatalf("state = %v, exempt = %v", d.State, d.Exempt)
	}
	want := []State{StateStart, StateHostNormalized, StateTenantResolved, StateBillingChecked, StateRateChecked, StateForwarded}
	if !reflect.DeepEqual(d.Trace, want) {
		t.Fatalf("trace = %v", d.Trace)
	}

	w := h.do(get("client-b.example.com", "/billing"))
	if w.Code != http.StatusOK || h.seen == nil {
		t.Fatalf("status = %d, downstream reached = %v", w.Code, h.seen != nil)
	}
	if got := h.seen.Header.Get(HeaderBillingStatus); got != string(meta.StatusSuspended) {
		t.Fatalf("forwarded billing status = %q", got)
	}

	if w := h.do(get("client-b.example.com", "/pricing")); w.Code != http.StatusPaymentRequired {
		t.Fatalf("non-exempt path status = %d, want 402", w.Code)
	}
}

func TestCancelledAndUnverifiableLookSuspended(t *testing.T) {
	h := newHarness(t)
	if w := h.do(get("client-c.example.com", "/")); w.Code != http.StatusPaymentRequired {
		t.Fatalf("cancelled status = %d", w.Code)
	}

	h.dir.statusErr = errors.New("db down")
	w := h.do(get("client-a.example.com", "/"))
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("billing failure status = %d, want 402", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Fatal("infrastructure error leaked to the response")
	}
}

func TestUnknownHostRejectedWithoutBillingOrRateCalls(t *testing.T) {
	h := newHarness(t)

	d := h.pipeline.Evaluate(get("unregistered.example.com", "/"))
	if d.State != StateTenantRejected || !errors.Is(d.Err, tenant.ErrUnknownHost) {
		t.Fatalf("decision = %+v", d)
	}
	w := h.do(get("unregistered.example.com", "/"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if h.dir.statusCalls != 0 {
		t.Fatal("billing consulted for an unknown host")
	}
	if keys := h.rateKeys(); len(keys) != 0 {
		t.Fatalf("rate counters touched: %v", keys)
	}
}

func TestReservedHostRejectedWithoutLookup(t *testing.T) {
	h := newHarness(t)
	for _, host := range []string{"admin.youragency.com", "www.youragency.com"} {
		d := h.pipeline.Evaluate(get(host, "/"))
		if d.State != StateTenantRejected || !errors.Is(d.Err, tenant.ErrRejected) {
			t.Fatalf("%s: decision = %+v", host, d)
		}
		want := []State{StateStart, StateHostNormalized, StateTenantRejected}
		if !reflect.DeepEqual(d.Trace, want) {
			t.Fatalf("%s: trace = %v", host, d.Trace)
		}
	}
	if h.dir.hostCalls != 0 {
		t.Fatal("directory queried for a reserved host")
	}
}

func TestRateLimitedResponse(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 50; i++ {
		if w := h.do(get("client-a.example.com", "/")); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := h.do(get("client-a.example.com", "/"))
	if w.Code != http.StatusTooManyRequests || h.seen != nil {
		t.Fatalf("status = %d", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "10" {
		t.Fatalf("Retry-After = %q, want 10", ra)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q", w.Header().Get("X-RateLimit-Remaining"))
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] != "Too Many Requests" {
		t.Fatalf("body = %s (%v)", w.Body.String(), err)
	}

	other := get("client-a.example.com", "/")
	other.RemoteAddr = "198.51.100.20:4444"
	if w := h.do(other); w.Code != http.StatusOK {
		t.Fatal("limit leaked across clients")
	}
}

func TestEndpointRoutePolicy(t *testing.T) {
	h := newHarness(t)
	post := func() *http.Request {
		return httptest.NewRequest(http.MethodPost, "http://client-a.example.com/api/contact", strings.NewReader("{}"))
	}
	for i := 0; i < 3; i++ {
		if w := h.do(post()); w.Code != http.StatusOK {
			t.Fatalf("submission %d status = %d", i+1, w.Code)
		}
	}
	if w := h.do(post()); w.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth submission status = %d, want 429", w.Code)
	}
	if w := h.do(get("client-a.example.com", "/")); w.Code != http.StatusOK {
		t.Fatal("endpoint limit spilled into page traffic")
	}
}

func TestBotsUseAnonymousPolicy(t *testing.T) {
	h := newHarness(t)
	botReq := func() *http.Request {
		r := get("client-d.example.com", "/")
		return r.WithContext(requestinfo.WithInfo(r.Context(), &requestinfo.RequestInfo{
			ClientIP: "66.249.66.1",
			UA:       requestinfo.UA{IsBot: true},
		}))
	}
	for i := 0; i < 10; i++ {
		h.do(botReq())
	}
	if w := h.do(botReq()); w.Code != http.StatusTooManyRequests {
		t.Fatalf("11th bot request status = %d", w.Code)
	}
}

func TestClientHeadersAreReplaced(t *testing.T) {
	h := newHarness(t)
	r := get("client-a.example.com", "/")
	r.Header.Set(HeaderTenantID, "t-evil")
	r.Header.Set(HeaderBillingStatus, "active")
	r.Header.Set("X-Tenant-Admin", "1")
	r.Header.Set(HeaderClientCountry, "ZZ")

	if w := h.do(r); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := h.seen.Header.Get(HeaderTenantID); got != "t-a" {
		t.Fatalf("tenant id = %q", got)
	}
	if h.seen.Header.Get("X-Tenant-Admin") != "" || h.seen.Header.Get(HeaderClientCountry) != "" {
		t.Fatalf("client headers survived: %v", h.seen.Header)
	}
}

func TestStoreOutage(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	d := h.pipeline.Evaluate(get("client-a.example.com", "/"))
	if d.State != StateForwarded || !d.Rate.Degraded {
		t.Fatalf("decision = %+v, want degraded forward", d)
	}
	d = h.pipeline.Evaluate(get("client-b.example.com", "/"))
	if d.State != StateBlockedSuspended {
		t.Fatalf("suspended tenant state = %v", d.State)
	}
}

// orderRecorder implements all three stage interfaces and records calls.
type orderRecorder struct {
	calls []string
}

func (o *orderRecorder) Normalize(raw string) (string, error) {
	o.calls = append(o.calls, "normalize")
	return raw, nil
}

func (o *orderRecorder) ResolveHost(_ context.Context, host string) (*tenant.Tenant, error) {
	o.calls = append(o.calls, "resolve")
	return &tenant.Tenant{Record: meta.Record{ID: "t-1", Host: host, Tier: meta.TierStarter}}, nil
}

func (o *orderRecorder) Check(context.Context, string) meta.Status {
	o.calls = append(o.calls, "billing")
	return meta.StatusActive
}

func (o *orderRecorder) PolicyFor(context.Context, string, meta.Tier, bool) ratelimit.Policy {
	o.calls = append(o.calls, "policy")
	return ratelimit.Policy{Name: "p", Limit: 1, Window: time.Second}
}

func (o *orderRecorder) Consume(context.Context, string, ratelimit.Policy) ratelimit.Result {
	o.calls = append(o.calls, "consume")
	return ratelimit.Result{Allowed: true, Limit: 1}
}

func (o *orderRecorder) Policies() ratelimit.Policies { return ratelimit.Policies{} }

func TestStageOrder(t *testing.T) {
	o := &orderRecorder{}
	p := New(o, o, o, Options{}, nil)
	d := p.Evaluate(get("client-a.example.com", "/"))
	if d.State != StateForwarded {
		t.Fatalf("state = %v", d.State)
	}
	want := []string{"normalize", "resolve", "billing", "policy", "consume"}
	if !reflect.DeepEqual(o.calls, want) {
		t.Fatalf("calls = %v, want %v", o.calls, want)
	}
}

func TestStateNames(t *testing.T) {
	if StateBlockedRateLimited.String() != "blocked_rate_limited" || State(99).String() != "unknown" {
		t.Fatal("state names")
	}
	for _, s := range []State{StateForwarded, StateBlockedSuspended, StateBlockedRateLimited, StateTenantRejected} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	if StateRateChecked.Terminal() {
		t.Error("rate_checked is not terminal")
	}
}

func TestDecisionMetrics(t *testing.T) {
	h := newHarness(t)
	forwarded := metrics.GateDecisionsTotal.WithLabelValues(StateForwarded.String())
	suspended := metrics.GateDecisionsTotal.WithLabelValues(StateBlockedSuspended.String())
	rejected := metrics.GateDecisionsTotal.WithLabelValues(StateTenantRejected.String())
	f0, s0, r0 := testutil.ToFloat64(forwarded), testutil.ToFloat64(suspended), testutil.ToFloat64(rejected)

	h.do(get("client-a.example.com", "/"))
	h.do(get("client-b.example.com", "/"))
	h.do(get("nobody.example.com", "/"))

	if d := testutil.ToFloat64(forwarded) - f0; d != 1 {
		t.Fatalf("forwarded delta = %v", d)
	}
	if d := testutil.ToFloat64(suspended) - s0; d != 1 {
		t.Fatalf("suspended delta = %v", d)
	}
	if d := testutil.ToFloat64(rejected) - r0; d != 1 {
		t.Fatalf("rejected delta = %v", d)
	}
}
