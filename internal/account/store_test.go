package account

import (
	"sync"
	"testing"
	"time"
)

func testAccount(id, tenant string) Account {
	return Account{
		ID:       id,
		TenantID: tenant,
		Host:     "smtp.example.test",
		Port:     587,
		Username: id + "@example.test",
	}
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(DefaultStoreConfig())
	if err := s.Register(testAccount("acct-1", "tenant-a")); err != nil {
		t.Fatalf("Error registering account: %v", err)
	}
	return s
}

func TestRegisterDuplicate(t *testing.T) {
	s := setupStore(t)
	if err := s.Register(testAccount("acct-1", "tenant-a")); err == nil {
		t.Fatal("Expected error registering duplicate account")
	}
}

func TestRegisterInvalid(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	if err := s.Register(Account{ID: "x"}); err == nil {
		t.Fatal("Expected validation error for incomplete account")
	}
}

func TestHardFailureSuspendsImmediately(t *testing.T) {
	s := setupStore(t)

	if err := s.Report("acct-1", OutcomeHardFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}

	st, err := s.Query("acct-1")
	if err != nil {
		t.Fatalf("Error querying account: %v", err)
	}
	if st.State != Suspended {
		t.Errorf("Expected state %s, got %s", Suspended, st.State)
	}
}

// Scenario: three soft failures inside the failure window degrade the
// account; one more inside the escalation window suspends it.
func TestSoftFailureEscalation(t *testing.T) {
	cfg := StoreConfig{
		SoftFailureThreshold: 3,
		SoftFailureWindow:    15 * time.Minute,
		EscalationThreshold:  1,
		EscalationWindow:     5 * time.Minute,
	}
	s := NewStore(cfg)
	if err := s.Register(testAccount("acct-1", "tenant-a")); err != nil {
		t.Fatalf("Error registering account: %v", err)
	}

	now := time.Now()
	s.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := s.Report("acct-1", OutcomeSoftFailure); err != nil {
			t.Fatalf("Error reporting outcome: %v", err)
		}
		st, _ := s.Query("acct-1")
		if st.State != Healthy {
			t.Fatalf("Expected healthy after %d failures, got %s", i+1, st.State)
		}
	}

	if err := s.Report("acct-1", OutcomeSoftFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}
	st, _ := s.Query("acct-1")
	if st.State != Degraded {
		t.Fatalf("Expected degraded after 3 failures, got %s", st.State)
	}

	// 4th failure shortly after crosses the escalation threshold
	now = now.Add(time.Minute)
	if err := s.Report("acct-1", OutcomeSoftFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}
	st, _ = s.Query("acct-1")
	if st.State != Suspended {
		t.Errorf("Expected suspended after escalation, got %s", st.State)
	}
}

func TestSoftFailuresOutsideWindowDoNotDegrade(t *testing.T) {
	cfg := DefaultStoreConfig()
	s := NewStore(cfg)
	if err := s.Register(testAccount("acct-1", "tenant-a")); err != nil {
		t.Fatalf("Error registering account: %v", err)
	}

	now := time.Now()
	s.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if err := s.Report("acct-1", OutcomeSoftFailure); err != nil {
			t.Fatalf("Error reporting outcome: %v", err)
		}
		// each failure lands in its own window
		now = now.Add(cfg.SoftFailureWindow + time.Minute)
	}

	st, _ := s.Query("acct-1")
	if st.State != Healthy {
		t.Errorf("Expected healthy with failures spread out, got %s", st.State)
	}
}

func TestSuccessResetsWindowAndRecoversDegraded(t *testing.T) {
	s := setupStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Report("acct-1", OutcomeSoftFailure); err != nil {
			t.Fatalf("Error reporting outcome: %v", err)
		}
	}
	st, _ := s.Query("acct-1")
	if st.State != Degraded {
		t.Fatalf("Expected degraded, got %s", st.State)
	}

	if err := s.Report("acct-1", OutcomeSuccess); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}
	st, _ = s.Query("acct-1")
	if st.State != Healthy {
		t.Errorf("Expected healthy after success, got %s", st.State)
	}
	if st.RecentSoftFailures != 0 {
		t.Errorf("Expected rolling window cleared, got %d", st.RecentSoftFailures)
	}
	if st.ConsecutiveFails != 0 {
		t.Errorf("Expected consecutive failures reset, got %d", st.ConsecutiveFails)
	}
}

func TestSuccessNeverClearsSuspension(t *testing.T) {
	s := setupStore(t)

	if err := s.Report("acct-1", OutcomeHardFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := s.Report("acct-1", OutcomeSuccess); err != nil {
			t.Fatalf("Error reporting outcome: %v", err)
		}
	}

	st, _ := s.Query("acct-1")
	if st.State != Suspended {
		t.Errorf("Expected account to stay suspended, got %s", st.State)
	}
}

func TestResetClearsSuspension(t *testing.T) {
	s := setupStore(t)

	if err := s.Report("acct-1", OutcomeHardFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}
	if err := s.Reset("acct-1"); err != nil {
		t.Fatalf("Error resetting account: %v", err)
	}

	st, _ := s.Query("acct-1")
	if st.State != Healthy {
		t.Errorf("Expected healthy after reset, got %s", st.State)
	}
	if st.SuspendReason != "" {
		t.Errorf("Expected suspend reason cleared, got %q", st.SuspendReason)
	}
}

func TestListEligibleExcludesSuspendedAndCapped(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Register(testAccount(id, "tenant-a")); err != nil {
			t.Fatalf("Error registering account: %v", err)
		}
	}

	if err := s.Report("a", OutcomeHardFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}

	// exhaust b's hourly cap of 1
	if _, ok := s.Acquire("b", 1, 100); !ok {
		t.Fatal("Expected to acquire one slot on b")
	}

	eligible := s.ListEligible("tenant-a", "", 1, 100)
	if len(eligible) != 1 {
		t.Fatalf("Expected 1 eligible account, got %d", len(eligible))
	}
	if eligible[0].ID != "c" {
		t.Errorf("Expected account c, got %s", eligible[0].ID)
	}
}

func TestListEligibleOrdersLeastRecentlyUsed(t *testing.T) {
	s := NewStore(DefaultStoreConfig())
	for _, id := range []string{"a", "b"} {
		if err := s.Register(testAccount(id, "tenant-a")); err != nil {
			t.Fatalf("Error registering account: %v", err)
		}
	}

	if _, ok := s.Acquire("a", 100, 100); !ok {
		t.Fatal("Expected to acquire slot on a")
	}

	eligible := s.ListEligible("tenant-a", "", 100, 100)
	if len(eligible) != 2 {
		t.Fatalf("Expected 2 eligible accounts, got %d", len(eligible))
	}
	if eligible[0].ID != "b" {
		t.Errorf("Expected never-used account b first, got %s", eligible[0].ID)
	}
}

// Property: once suspended, the account stays suspended under arbitrary
// concurrent report interleavings; only an explicit reset clears it.
func TestSuspensionHoldsUnderConcurrentReports(t *testing.T) {
	s := setupStore(t)

	if err := s.Report("acct-1", OutcomeHardFailure); err != nil {
		t.Fatalf("Error reporting outcome: %v", err)
	}

	var wg sync.WaitGroup
	outcomes := []Outcome{OutcomeSuccess, OutcomeSoftFailure, OutcomeSuccess}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Report("acct-1", outcomes[i%len(outcomes)])
		}(i)
	}
	wg.Wait()

	st, _ := s.Query("acct-1")
	if st.State != Suspended {
		t.Errorf("Expected account to stay suspended under concurrent reports, got %s", st.State)
	}
}

// Property: concurrent acquisitions never exceed the usage cap.
func TestAcquireNeverExceedsCap(t *testing.T) {
	s := setupStore(t)

	const hourlyCap = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Acquire("acct-1", hourlyCap, 1000); ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != hourlyCap {
		t.Errorf("Expected exactly %d successful claims, got %d", hourlyCap, claimed)
	}

	st, _ := s.Query("acct-1")
	if st.HourlyUsed != hourlyCap {
		t.Errorf("Expected hourly usage %d, got %d", hourlyCap, st.HourlyUsed)
	}
}

func TestUsageWindowRollover(t *testing.T) {
	s := setupStore(t)

	now := time.Now().Truncate(time.Hour).Add(30 * time.Minute)
	s.now = func() time.Time { return now }

	if _, ok := s.Acquire("acct-1", 1, 100); !ok {
		t.Fatal("Expected first acquire to succeed")
	}
	if _, ok := s.Acquire("acct-1", 1, 100); ok {
		t.Fatal("Expected second acquire to hit the hourly cap")
	}

	now = now.Add(time.Hour)
	if _, ok := s.Acquire("acct-1", 1, 100); !ok {
		t.Error("Expected acquire to succeed after the hourly window rolled over")
	}
}
