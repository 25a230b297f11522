package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poapgate/poapgate/internal/ens"
	"github.com/poapgate/poapgate/internal/ledger"
	"github.com/poapgate/poapgate/internal/metrics"
	"github.com/poapgate/poapgate/internal/model"
	"github.com/poapgate/poapgate/internal/poap"
	"github.com/poapgate/poapgate/internal/store"
)

var (
	fixedNow    = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	vitalikAddr = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")
)

type fakeResolver struct {
	mu     sync.Mutex
	addrs  map[string]common.Address
	err    error
	called int
}

func (f *fakeResolver) Resolve(_ context.Context, name string) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if f.err != nil {
		return common.Address{}, f.err
	}
	addr, ok := f.addrs[name]
	if !ok {
		return common.Address{}, ens.ErrNotRegistered
	}
	return addr, nil
}

type fakeMinter struct {
	mu       sync.Mutex
	authErr  error
	claimErr error
	tokenID  string
	onClaim  func(ctx context.Context)
	auths    int
	claims   []poap.ClaimRequest
}

func (f *fakeMinter) Authenticate(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths++
	if f.authErr != nil {
		return "", f.authErr
	}
	return "access-token", nil
}

func (f *fakeMinter) Claim(ctx context.Context, token string, req poap.ClaimRequest) (poap.ClaimResult, error) {
	if f.onClaim != nil {
		f.onClaim(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != "access-token" {
		return poap.ClaimResult{}, errors.New("bad token")
	}
	f.claims = append(f.claims, req)
	if f.claimErr != nil {
		return poap.ClaimResult{}, f.claimErr
	}
	return poap.ClaimResult{TokenID: f.tokenID}, nil
}

func (f *fakeMinter) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.claims)
}

// failingStore rejects writes to mint records.
type failingStore struct {
	store.Store
}

func (f failingStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if strings.HasPrefix(key, "mint:") {
		return false, errors.New("disk full")
	}
	return f.Store.SetNX(ctx, key, value, ttl)
}

type harness struct {
	svc      *ClaimService
	ledger   *ledger.Ledger
	store    store.Store
	resolver *fakeResolver
	minter   *fakeMinter
	metrics  *metrics.InMemoryRecorder
}

func newHarness(t *testing.T, s store.Store) *harness {
	t.Helper()
	if s == nil {
		s = store.NewMemory()
	}
	h := &harness{
		ledger:   ledger.New(s),
		store:    s,
		resolver: &fakeResolver{addrs: map[string]common.Address{"vitalik.eth": vitalikAddr}},
		minter:   &fakeMinter{tokenID: "tok123"},
		metrics:  metrics.NewInMemory(),
	}
	h.svc = NewClaimService(h.ledger, h.resolver, h.minter, ClaimConfig{
		EventID:     "e1",
		SecretCode:  "secret",
		CallTimeout: time.Second,
		LockTTL:     time.Minute,
		Now:         func() time.Time { return fixedNow },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), h.metrics)
	return h
}

func (h *harness) lockHeld(t *testing.T, userID string) bool {
	t.Helper()
	ok, err := h.store.Exists(context.Background(), "lock:mint:"+userID+":e1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	return ok
}

func TestClaim_EmailSucceedsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.Claim(ctx, ClaimInput{UserID: "u1", UserDisplayName: "alice", Recipient: "alice@example.com"})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.TokenID != "tok123" {
		t.Errorf("TokenID = %q, want tok123", res.TokenID)
	}

	records, err := h.ledger.ListByEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("ListByEvent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	want := model.MintRecord{
		UserID:          "u1",
		UserDisplayName: "alice",
		RecipientType:   model.RecipientEmail,
		Recipient:       "alice@example.com",
		EventID:         "e1",
		TokenID:         "tok123",
		MintedAt:        fixedNow,
	}
	if !got.MintedAt.Equal(want.MintedAt) {
		t.Errorf("MintedAt = %v, want %v", got.MintedAt, want.MintedAt)
	}
	got.MintedAt = want.MintedAt
	if got != want {
		t.Errorf("record = %+v, want %+v", got, want)
	}

	if len(h.minter.claims) != 1 || h.minter.claims[0].Email != "alice@example.com" || h.minter.claims[0].Address != "" {
		t.Errorf("claim request = %+v", h.minter.claims)
	}
	if h.minter.claims[0].EventID != "e1" || h.minter.claims[0].SecretCode != "secret" {
		t.Errorf("claim request carries wrong event: %+v", h.minter.claims[0])
	}

	_, err = h.svc.Claim(ctx, ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim error = %v, want ErrAlreadyClaimed", err)
	}
	if n := h.minter.claimCount(); n != 1 {
		t.Errorf("upstream claimed %d times, want 1", n)
	}
	if h.lockHeld(t, "u1") {
		t.Error("reservation should be released after a recorded claim")
	}

	snap := h.metrics.Snapshot()
	if snap.Claims[metrics.OutcomeSuccess] != 1 || snap.Claims[metrics.OutcomeAlreadyClaimed] != 1 {
		t.Errorf("claim metrics = %v", snap.Claims)
	}
}

func TestClaim_UnregisteredName(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "nobody.eth"})
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("error = %v, want ErrResolutionFailed", err)
	}

	exists, _ := h.ledger.Exists(context.Background(), "u1", "e1")
	if exists {
		t.Error("no record should be written")
	}
	if h.minter.auths != 0 || h.minter.claimCount() != 0 {
		t.Error("minting service should not be contacted")
	}
	if h.metrics.Snapshot().Resolutions[metrics.ResolutionNotRegistered] != 1 {
		t.Errorf("resolution metrics = %v", h.metrics.Snapshot().Resolutions)
	}
}

func TestClaim_ResolverUnreachable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.resolver.err = errors.Join(ens.ErrLookupFailed, errors.New("dial tcp: connection refused"))

	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "vitalik.eth"})
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("error = %v, want ErrResolutionFailed", err)
	}
	if h.metrics.Snapshot().Resolutions[metrics.ResolutionLookupFailed] != 1 {
		t.Errorf("resolution metrics = %v", h.metrics.Snapshot().Resolutions)
	}
}

func TestClaim_NameUsesResolvedAddress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	res, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "vitalik.eth", RecipientType: "ens"})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got := h.minter.claims[0].Address; got != vitalikAddr.Hex() {
		t.Errorf("claimed to %q, want %q", got, vitalikAddr.Hex())
	}
	if res.Record.RecipientType != model.RecipientName || res.Record.Recipient != "vitalik.eth" {
		t.Errorf("record = %+v", res.Record)
	}
	if res.Record.ResolvedAddress != vitalikAddr.Hex() {
		t.Errorf("ResolvedAddress = %q", res.Record.ResolvedAddress)
	}
}

func TestClaim_AddressUsedVerbatim(t *testing.T) {
	t.Parallel()

	const addr = "0x000000000000000000000000000000000000dEaD"

	h := newHarness(t, nil)
	res, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: addr})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if h.resolver.called != 0 {
		t.Error("resolver should not be invoked for addresses")
	}
	if got := h.minter.claims[0].Address; got != addr {
		t.Errorf("claimed to %q, want %q", got, addr)
	}
	if res.Record.RecipientType != model.RecipientAddress || res.Record.ResolvedAddress != "" {
		t.Errorf("record = %+v", res.Record)
	}
}

func TestListClaims_Empty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	records, err := h.svc.ListClaims(context.Background())
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", records)
	}
}

func TestClaim_InvalidRecipient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input ClaimInput
	}{
		{"garbage", ClaimInput{UserID: "u1", Recipient: "foo.com"}},
		{"empty", ClaimInput{UserID: "u1", Recipient: ""}},
		{"declared type mismatch", ClaimInput{UserID: "u1", Recipient: "alice@example.com", RecipientType: "address"}},
		{"unknown declared type", ClaimInput{UserID: "u1", Recipient: "alice@example.com", RecipientType: "phone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			_, err := h.svc.Claim(context.Background(), tt.input)
			if !errors.Is(err, ErrInvalidRecipient) {
				t.Fatalf("error = %v, want ErrInvalidRecipient", err)
			}
			if h.lockHeld(t, "u1") {
				t.Error("validation failures must not reserve")
			}
		})
	}
}

func TestClaim_AuthFailureReleasesReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.minter.authErr = errors.Join(poap.ErrAuthFailure, errors.New("401"))

	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("error = %v, want ErrAuthFailure", err)
	}
	if h.lockHeld(t, "u1") {
		t.Error("reservation should be released")
	}

	// a later attempt can proceed
	h.minter.authErr = nil
	if _, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestClaim_UpstreamRejection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.minter.claimErr = &poap.RejectedError{StatusCode: 400, Reason: "QR Claim already claimed"}

	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if !errors.Is(err, ErrUpstreamRejected) {
		t.Fatalf("error = %v, want ErrUpstreamRejected", err)
	}
	var rejected *UpstreamRejectedError
	if !errors.As(err, &rejected) || rejected.Reason != "QR Claim already claimed" {
		t.Fatalf("error = %#v, want reason forwarded", err)
	}
	if h.lockHeld(t, "u1") {
		t.Error("reservation should be released")
	}
	exists, _ := h.ledger.Exists(context.Background(), "u1", "e1")
	if exists {
		t.Error("no record should be written")
	}
}

func TestClaim_UpstreamTransportErrorIsInternal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.minter.claimErr = errors.New("connection reset")

	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, sentinel := range []error{ErrAlreadyClaimed, ErrClaimInProgress, ErrInvalidRecipient, ErrResolutionFailed, ErrAuthFailure, ErrUpstreamRejected} {
		if errors.Is(err, sentinel) {
			t.Errorf("transport failure should be internal, matched %v", sentinel)
		}
	}
	if h.metrics.Snapshot().Claims[metrics.OutcomeInternal] != 1 {
		t.Errorf("claim metrics = %v", h.metrics.Snapshot().Claims)
	}
}

func TestClaim_WriteFailureKeepsReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, failingStore{Store: store.NewMemory()})

	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrAlreadyClaimed) {
		t.Error("write failure should surface as internal")
	}
	if !h.lockHeld(t, "u1") {
		t.Error("reservation must stay held after the upstream claim succeeded")
	}

	// the held reservation blocks an immediate retry
	_, err = h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if !errors.Is(err, ErrClaimInProgress) {
		t.Fatalf("retry error = %v, want ErrClaimInProgress", err)
	}
	if n := h.minter.claimCount(); n != 1 {
		t.Errorf("upstream claimed %d times, want 1", n)
	}
}

func TestClaim_InFlightReservationBlocks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if _, err := h.ledger.Reserve(context.Background(), "u1", "e1", time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
	if !errors.Is(err, ErrClaimInProgress) {
		t.Fatalf("error = %v, want ErrClaimInProgress", err)
	}
	if errors.Is(err, ErrAlreadyClaimed) {
		t.Error("an unfinished claim must not read as already minted")
	}
	if h.minter.auths != 0 {
		t.Error("minting service should not be contacted")
	}
	if got := h.metrics.Snapshot().Claims[metrics.OutcomeInProgress]; got != 1 {
		t.Errorf("claim metrics = %v", h.metrics.Snapshot().Claims)
	}
}

func TestNewClaimService_LockCoversReservedCalls(t *testing.T) {
	t.Parallel()

	svc := NewClaimService(ledger.New(store.NewMemory()), &fakeResolver{}, &fakeMinter{}, ClaimConfig{
		EventID:     "e1",
		CallTimeout: 10 * time.Second,
		LockTTL:     10 * time.Second,
	}, nil, nil)

	if want := 45 * time.Second; svc.cfg.LockTTL != want {
		t.Errorf("LockTTL = %v, want %v", svc.cfg.LockTTL, want)
	}
	if got := MinLockTTL(time.Second); got != 9*time.Second {
		t.Errorf("MinLockTTL(1s) = %v", got)
	}
}

func TestClaim_ConcurrentAttemptsMintOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.minter.onClaim = func(context.Context) { <-gate }

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Claim(context.Background(), ClaimInput{UserID: "u1", Recipient: "alice@example.com"})
			errs <- err
		}()
	}

	// let the losers fail fast before the winner finishes
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	var ok, already int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrClaimInProgress):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || already != attempts-1 {
		t.Errorf("ok=%d already=%d, want 1 and %d", ok, already, attempts-1)
	}
	if n := h.minter.claimCount(); n != 1 {
		t.Errorf("upstream claimed %d times, want 1", n)
	}
}

func TestClaim_SubmissionSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var claimCtxErr error
	h.minter.onClaim = func(claimCtx context.Context) {
		cancel()
		claimCtxErr = claimCtx.Err()
	}

	if _, err := h.svc.Claim(ctx, ClaimInput{UserID: "u1", Recipient: "alice@example.com"}); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimCtxErr != nil {
		t.Errorf("claim context cancelled with caller: %v", claimCtxErr)
	}
	exists, _ := h.ledger.Exists(context.Background(), "u1", "e1")
	if !exists {
		t.Error("record should be written after caller cancellation")
	}
}

func TestClaim_RequiresUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if _, err := h.svc.Claim(context.Background(), ClaimInput{Recipient: "alice@example.com"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpstreamRejectedError(t *testing.T) {
	t.Parallel()

	err := error(&UpstreamRejectedError{StatusCode: 400, Reason: "Event expired"})
	if !errors.Is(err, ErrUpstreamRejected) {
		t.Error("should match ErrUpstreamRejected")
	}
	if !strings.Contains(err.Error(), "Event expired") {
		t.Errorf("Error() = %q", err.Error())
	}
}
