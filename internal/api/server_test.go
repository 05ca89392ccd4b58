package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/outcome"
	"github.com/sendrotor/sendrotor/internal/plan"
	"github.com/sendrotor/sendrotor/internal/queue"
	"github.com/sendrotor/sendrotor/internal/secrets"
	"github.com/sendrotor/sendrotor/internal/validator"
)

type fakeChecker struct {
	verdict   validator.Verdict
	report    validator.DomainReport
	err       error
	addresses []string
}

func (f *fakeChecker) CheckEmail(_ context.Context, address string) (validator.Verdict, error) {
	f.addresses = append(f.addresses, address)
	return f.verdict, f.err
}

func (f *fakeChecker) CheckDomain(_ context.Context, domain string, _ []string) (validator.DomainReport, error) {
	return f.report, f.err
}

type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, _ account.Account) error {
	f.calls++
	return f.err
}

type testEnv struct {
	server   *Server
	engine   *queue.Engine
	accounts *account.Store
	box      *secrets.Box
	checker  *fakeChecker
	verifier *fakeVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	plans, err := plan.NewRegistry(nil)
	if err != nil {
		t.Fatalf("plan registry: %v", err)
	}

	engine := queue.NewEngine(plans, queue.NewMemoryDeadLetterStore(), queue.DefaultEngineConfig())
	accounts := account.NewStore(account.DefaultStoreConfig())

	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box, err := secrets.NewBox(key)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	checker := &fakeChecker{}
	verifier := &fakeVerifier{}

	server, err := NewServer(Config{Enabled: true}, engine, accounts, checker, box, verifier)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	return &testEnv{
		server:   server,
		engine:   engine,
		accounts: accounts,
		box:      box,
		checker:  checker,
		verifier: verifier,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEnqueueAndGetItem(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/queue/items", enqueueRequest{
		TenantID:      "tenant-a",
		Tier:          "premium",
		Kind:          "send",
		Target:        "lead@example.com",
		Payload:       []byte("Subject: hello\r\n\r\nbody"),
		RotationGroup: "warmup",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var item queue.WorkItem
	decodeBody(t, rec, &item)
	if item.ID == "" {
		t.Fatal("expected a generated item id")
	}

	got := env.do(t, "GET", "/api/queue/items/"+item.ID, nil)
	if got.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", got.Code)
	}

	var resp itemResponse
	decodeBody(t, got, &resp)
	if resp.Status != queue.StatusPending {
		t.Errorf("expected status pending, got %q", resp.Status)
	}
	if resp.Item.Target != "lead@example.com" {
		t.Errorf("unexpected target %q", resp.Item.Target)
	}
	if resp.Item.RotationGroup != "warmup" {
		t.Errorf("unexpected rotation group %q", resp.Item.RotationGroup)
	}
}

func TestEnqueueRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/queue/items", enqueueRequest{
		TenantID: "tenant-a",
		Tier:     "premium",
		Kind:     "send",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing target, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/queue/items", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.server.Router().ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", raw.Code)
	}
}

func TestGetItemNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/queue/items/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/queue/items", enqueueRequest{
		TenantID: "tenant-a", Tier: "free", Kind: "probe", Target: "a@example.com",
	})

	rec := env.do(t, "GET", "/api/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats queue.Stats
	decodeBody(t, rec, &stats)
	if stats.PendingCount != 1 {
		t.Errorf("expected 1 pending, got %d", stats.PendingCount)
	}
}

func TestRegisterAccountSealsCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/accounts", registerAccountRequest{
		ID:       "acct-1",
		TenantID: "tenant-a",
		Host:     "smtp.provider.test",
		Port:     587,
		Username: "outreach@tenant-a.test",
		Password: "hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatal("response must not echo the password")
	}
	if env.verifier.calls != 1 {
		t.Errorf("expected verifier to run once, ran %d times", env.verifier.calls)
	}

	acct, ok := env.accounts.Acquire("acct-1", 100, 1000)
	if !ok {
		t.Fatal("registered account should be acquirable")
	}
	plain, err := env.box.Open(acct.Credentials)
	if err != nil {
		t.Fatalf("stored credentials should decrypt: %v", err)
	}
	if plain != "hunter2" {
		t.Errorf("decrypted %q, want the original password", plain)
	}
}

func TestRegisterAccountVerifierRejects(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.err = errors.New("535 authentication failed")

	rec := env.do(t, "POST", "/api/accounts", registerAccountRequest{
		ID: "acct-1", TenantID: "tenant-a", Host: "smtp.provider.test",
		Port: 587, Username: "u@tenant-a.test", Password: "wrong",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	if _, err := env.accounts.Query("acct-1"); err == nil {
		t.Error("rejected account must not be registered")
	}
}

func TestRegisterAccountSkipVerify(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.err = errors.New("unreachable")

	rec := env.do(t, "POST", "/api/accounts", registerAccountRequest{
		ID: "acct-1", TenantID: "tenant-a", Host: "smtp.provider.test",
		Port: 587, Username: "u@tenant-a.test", Password: "pw", SkipVerify: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.verifier.calls != 0 {
		t.Errorf("verifier should not run with skip_verify, ran %d times", env.verifier.calls)
	}
}

func TestListAccountsRequiresTenant(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/accounts", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", rec.Code)
	}
}

func TestResetSuspendedAccount(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/accounts", registerAccountRequest{
		ID: "acct-1", TenantID: "tenant-a", Host: "smtp.provider.test",
		Port: 587, Username: "u@tenant-a.test", Password: "pw", SkipVerify: true,
	})
	if err := env.accounts.Report("acct-1", account.OutcomeHardFailure); err != nil {
		t.Fatalf("report: %v", err)
	}

	rec := env.do(t, "POST", "/api/accounts/acct-1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status account.Status
	decodeBody(t, rec, &status)
	if status.State != account.Healthy {
		t.Errorf("expected healthy after reset, got %q", status.State)
	}
}

func TestDeadLetterListAndRequeue(t *testing.T) {
	env := newTestEnv(t)

	item, err := env.engine.Enqueue(queue.WorkItem{
		TenantID: "tenant-a", Tier: "premium", Kind: queue.KindSend,
		Target: "gone@example.com",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dequeued, ok := env.engine.Dequeue()
	if !ok || dequeued.ID != item.ID {
		t.Fatalf("expected to dequeue %s", item.ID)
	}

	rec := queue.AttemptRecord{
		Timestamp: time.Now(),
		Result:    outcome.ResultPermFailed,
		Latency:   time.Second,
	}
	rejection := &outcome.ProtocolRejection{Code: 550, Message: "no such user"}
	if _, err := env.engine.Resolve(context.Background(), item.ID, rec, rejection); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	listed := env.do(t, "GET", "/api/dlq?tenant=tenant-a", nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	var entries []queue.DeadLetterEntry
	decodeBody(t, listed, &entries)
	if len(entries) != 1 || entries[0].Item.ID != item.ID {
		t.Fatalf("expected one entry for %s, got %+v", item.ID, entries)
	}

	single := env.do(t, "GET", "/api/dlq/"+item.ID, nil)
	if single.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", single.Code)
	}
	var entry queue.DeadLetterEntry
	decodeBody(t, single, &entry)
	if entry.Reason != queue.ReasonPermanentRejection {
		t.Errorf("reason = %q", entry.Reason)
	}

	requeued := env.do(t, "POST", fmt.Sprintf("/api/dlq/%s/requeue", item.ID), nil)
	if requeued.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", requeued.Code, requeued.Body.String())
	}

	var back queue.WorkItem
	decodeBody(t, requeued, &back)
	if back.AttemptCount != 0 {
		t.Errorf("requeued item should have a fresh attempt budget, got %d", back.AttemptCount)
	}

	missing := env.do(t, "POST", "/api/dlq/nope/requeue", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", missing.Code)
	}
}

func TestDeadLetterListRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/dlq?since=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}

	rec = env.do(t, "GET", "/api/dlq?limit=-3", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestPauseAndResumeTenant(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, "POST", "/api/tenants/tenant-a/pause", nil); rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	if !env.engine.Paused("tenant-a") {
		t.Error("tenant should be paused")
	}

	if rec := env.do(t, "POST", "/api/tenants/tenant-a/resume", nil); rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	if env.engine.Paused("tenant-a") {
		t.Error("tenant should be resumed")
	}
}

func TestCheckEmailEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.checker.verdict = validator.Verdict{
		Address:  "lead@example.com",
		Domain:   "example.com",
		State:    validator.StateValid,
		Category: validator.CategoryPremium,
	}

	rec := env.do(t, "POST", "/api/checks/email", checkEmailRequest{Address: "lead@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var verdict validator.Verdict
	decodeBody(t, rec, &verdict)
	if verdict.State != validator.StateValid {
		t.Errorf("expected valid verdict, got %q", verdict.State)
	}
	if len(env.checker.addresses) != 1 || env.checker.addresses[0] != "lead@example.com" {
		t.Errorf("checker saw %v", env.checker.addresses)
	}

	missing := env.do(t, "POST", "/api/checks/email", checkEmailRequest{})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without address, got %d", missing.Code)
	}
}

func TestCheckDomainEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.checker.report = validator.DomainReport{
		Domain: "example.com", HasSPF: true, HasDKIM: true, HasDMARC: true,
		RiskLevel: validator.RiskLow,
	}

	rec := env.do(t, "POST", "/api/checks/domain", checkDomainRequest{Domain: "example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var report validator.DomainReport
	decodeBody(t, rec, &report)
	if report.RiskLevel != validator.RiskLow {
		t.Errorf("expected low risk, got %q", report.RiskLevel)
	}

	missing := env.do(t, "POST", "/api/checks/domain", checkDomainRequest{})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without domain, got %d", missing.Code)
	}
}

func TestDisabledServerRefusesToStart(t *testing.T) {
	if _, err := NewServer(Config{Enabled: false}, nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected an error for a disabled server")
	}
}
