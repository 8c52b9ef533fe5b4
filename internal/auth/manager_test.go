package auth

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	validateCalls atomic.Int32
	refreshCalls  atomic.Int32

	validateResult ValidateResult
	validateErr    error
	refreshResult  RefreshResult
	refreshErr     error
}

func (f *fakeClient) ValidateInvitation(context.Context, string) (ValidateResult, error) {
	f.validateCalls.Add(1)
	return f.validateResult, f.validateErr
}

func (f *fakeClient) RefreshToken(context.Context, string) (RefreshResult, error) {
	f.refreshCalls.Add(1)
	return f.refreshResult, f.refreshErr
}

func newManager(t *testing.T, client Client) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth_state.json")
	return New(Config{Client: client, StatePath: path, InvitationCode: "inv-123"})
}

func TestStart_NoPersistedStateFallsBackToInvitationExchange(t *testing.T) {
	client := &fakeClient{validateResult: ValidateResult{Success: true, CustomToken: "tok1", LocationName: "loc1", CompanyID: "co1", ExpiresIn: 3600}}
	m := newManager(t, client)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Token() != "tok1" {
		t.Errorf("Token() = %q, want tok1", m.Token())
	}
	if got := client.validateCalls.Load(); got != 1 {
		t.Errorf("validateCalls = %d, want 1", got)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false after successful exchange")
	}
}

func TestStart_ReusesFreshPersistedStateViaRefresh(t *testing.T) {
	client := &fakeClient{refreshResult: RefreshResult{Success: true, CustomToken: "tok2", ExpiresIn: 3600}}
	path := filepath.Join(t.TempDir(), "auth_state.json")
	if err := saveState(path, State{Token: "old", Location: "loc1", Company: "co1", AcquiredAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("saveState: %v", err)
	}
	m := New(Config{Client: client, StatePath: path, InvitationCode: "inv-123"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Token() != "tok2" {
		t.Errorf("Token() = %q, want tok2 (reused via refresh)", m.Token())
	}
	if got := client.refreshCalls.Load(); got != 1 {
		t.Errorf("refreshCalls = %d, want 1", got)
	}
	if got := client.validateCalls.Load(); got != 0 {
		t.Errorf("validateCalls = %d, want 0 (should not fall back when reuse succeeds)", got)
	}
}

func TestStart_StalePersistedStateFallsBackToExchange(t *testing.T) {
	client := &fakeClient{validateResult: ValidateResult{Success: true, CustomToken: "tok3", LocationName: "loc1", CompanyID: "co1", ExpiresIn: 3600}}
	path := filepath.Join(t.TempDir(), "auth_state.json")
	if err := saveState(path, State{Token: "old", AcquiredAt: time.Now().Add(-8 * 24 * time.Hour)}); err != nil {
		t.Fatalf("saveState: %v", err)
	}
	m := New(Config{Client: client, StatePath: path, InvitationCode: "inv-123"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := client.refreshCalls.Load(); got != 0 {
		t.Errorf("refreshCalls = %d, want 0 for state older than 7 days", got)
	}
	if got := client.validateCalls.Load(); got != 1 {
		t.Errorf("validateCalls = %d, want 1", got)
	}
}

func TestStart_ReuseFailureClearsStateAndFallsBackToExchange(t *testing.T) {
	client := &fakeClient{
		refreshErr:     nil,
		refreshResult:  RefreshResult{Success: false},
		validateResult: ValidateResult{Success: true, CustomToken: "tok4", LocationName: "loc1", CompanyID: "co1", ExpiresIn: 3600},
	}
	path := filepath.Join(t.TempDir(), "auth_state.json")
	if err := saveState(path, State{Token: "old", AcquiredAt: time.Now()}); err != nil {
		t.Fatalf("saveState: %v", err)
	}
	m := New(Config{Client: client, StatePath: path, InvitationCode: "inv-123"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Token() != "tok4" {
		t.Errorf("Token() = %q, want tok4 after fallback exchange", m.Token())
	}
}

func TestRefresh_ConcurrentCallersCollapseIntoOne(t *testing.T) {
	client := &fakeClient{validateResult: ValidateResult{Success: true, CustomToken: "tok5", LocationName: "loc1", CompanyID: "co1", ExpiresIn: 3600}}
	m := newManager(t, client)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client.refreshResult = RefreshResult{Success: true, CustomToken: "tok6", ExpiresIn: 3600}

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- m.Refresh(context.Background()) }()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Refresh: %v", err)
		}
	}
	if m.Token() != "tok6" {
		t.Errorf("Token() = %q, want tok6", m.Token())
	}
}

func TestExchange_InvitationRejectedMarksUnhealthy(t *testing.T) {
	client := &fakeClient{validateResult: ValidateResult{Success: false}}
	m := newManager(t, client)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when invitation is rejected")
	}
	if m.Healthy() {
		t.Error("Healthy() = true after rejected invitation")
	}
}
