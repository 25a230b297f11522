// Package service runs the POAP claim workflow.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poapgate/poapgate/internal/ens"
	"github.com/poapgate/poapgate/internal/ledger"
	"github.com/poapgate/poapgate/internal/metrics"
	"github.com/poapgate/poapgate/internal/model"
	"github.com/poapgate/poapgate/internal/poap"
	"github.com/poapgate/poapgate/internal/recipient"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultLockTTL     = 2 * time.Minute

	// callsUnderReservation counts the external calls made while the claim
	// slot is held: re-check, authenticate, submit and write.
	callsUnderReservation = 4
	lockTTLMargin         = 5 * time.Second
)

// MinLockTTL is the shortest reservation that outlives every call made
// while it is held, each bounded by callTimeout.
func MinLockTTL(callTimeout time.Duration) time.Duration {
	return callsUnderReservation*callTimeout + lockTTLMargin
}

// NameResolver maps an ENS name to an address.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (common.Address, error)
}

// Minter obtains service credentials and submits claims.
type Minter interface {
	Authenticate(ctx context.Context) (string, error)
	Claim(ctx context.Context, token string, req poap.ClaimRequest) (poap.ClaimResult, error)
}

// ClaimConfig holds the event being distributed and workflow limits.
type ClaimConfig struct {
	EventID    string
	SecretCode string

	// CallTimeout bounds each external call.
	CallTimeout time.Duration
	// LockTTL bounds how long a claim slot stays reserved.
	LockTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// ClaimInput is one user's request to claim the event's POAP.
type ClaimInput struct {
	UserID          string
	UserDisplayName string
	Recipient       string
	// RecipientType is the client's declared kind, optional.
	RecipientType string
}

// ClaimResult is returned on success.
type ClaimResult struct {
	TokenID string
	Record  model.MintRecord
}

// ClaimService runs the claim workflow for a single event.
type ClaimService struct {
	ledger   *ledger.Ledger
	resolver NameResolver
	minter   Minter
	cfg      ClaimConfig
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewClaimService creates a new ClaimService.
func NewClaimService(l *ledger.Ledger, resolver NameResolver, minter Minter, cfg ClaimConfig, logger *slog.Logger, recorder metrics.Recorder) *ClaimService {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if floor := MinLockTTL(cfg.CallTimeout); cfg.LockTTL < floor {
		cfg.LockTTL = floor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ClaimService{
		ledger:   l,
		resolver: resolver,
		minter:   minter,
		cfg:      cfg,
		logger:   logger.With("component", "claim"),
		metrics:  recorder,
	}
}

// EventID returns the event this service distributes.
func (s *ClaimService) EventID() string {
	return s.cfg.EventID
}

// Claim mints the event's POAP to the input's recipient, at most once
// per user.
func (s *ClaimService) Claim(ctx context.Context, in ClaimInput) (result *ClaimResult, err error) {
	start := s.cfg.Now()
	defer func() {
		s.metrics.ObserveClaimDuration(s.cfg.Now().Sub(start))
		s.metrics.IncClaim(outcome(err))
	}()

	if in.UserID == "" {
		return nil, fmt.Errorf("claim input has no user id")
	}
	log := s.logger.With("user_id", in.UserID, "event_id", s.cfg.EventID)

	exists, err := s.exists(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Info("claim_rejected", "reason", "already_claimed")
		return nil, ErrAlreadyClaimed
	}

	kind, err := classify(in.Recipient, in.RecipientType)
	if err != nil {
		log.Info("claim_rejected", "reason", "invalid_recipient", "declared_type", in.RecipientType)
		return nil, err
	}

	req := poap.ClaimRequest{EventID: s.cfg.EventID, SecretCode: s.cfg.SecretCode}
	var resolved string
	switch kind {
	case model.RecipientEmail:
		req.Email = in.Recipient
	case model.RecipientAddress:
		req.Address = in.Recipient
	case model.RecipientName:
		addr, err := s.resolve(ctx, log, in.Recipient)
		if err != nil {
			return nil, err
		}
		resolved = addr.Hex()
		req.Address = resolved
	}

	reservation, err := s.reserve(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrClaimInProgress) {
			log.Info("claim_rejected", "reason", "claim_in_progress")
			return nil, ErrClaimInProgress
		}
		return nil, err
	}

	minted := false
	defer func() {
		if err != nil && !minted {
			s.release(ctx, log, reservation)
		}
	}()

	// A concurrent attempt may have finished between the first check and
	// the reservation.
	exists, err = s.exists(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Info("claim_rejected", "reason", "already_claimed")
		return nil, ErrAlreadyClaimed
	}

	token, err := s.authenticate(ctx)
	if err != nil {
		log.Error("poap_auth_failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	// The claim consumes upstream supply, so it must not be abandoned
	// when the caller goes away.
	detached := context.WithoutCancel(ctx)

	claimed, err := s.submit(detached, token, req)
	if err != nil {
		var rejected *poap.RejectedError
		if errors.As(err, &rejected) {
			log.Warn("claim_rejected", "reason", "upstream", "status", rejected.StatusCode, "upstream_reason", rejected.Reason)
			return nil, &UpstreamRejectedError{StatusCode: rejected.StatusCode, Reason: rejected.Reason}
		}
		log.Error("poap_claim_failed", "error", err)
		return nil, fmt.Errorf("submit claim: %w", err)
	}

	record := model.MintRecord{
		UserID:          in.UserID,
		UserDisplayName: in.UserDisplayName,
		RecipientType:   kind,
		Recipient:       in.Recipient,
		ResolvedAddress: resolved,
		EventID:         s.cfg.EventID,
		TokenID:         claimed.TokenID,
		MintedAt:        s.cfg.Now().UTC(),
	}

	// From here on the upstream claim has succeeded; the reservation is
	// kept on failure so it expires on its own.
	minted = true
	if err := s.write(detached, record); err != nil {
		log.Error("mint_record_write_failed",
			"error", err,
			"recipient_type", string(record.RecipientType),
			"recipient", record.Recipient,
			"resolved_address", record.ResolvedAddress,
			"token_id", record.TokenID,
			"user_display_name", record.UserDisplayName,
			"minted_at", record.MintedAt,
		)
		return nil, fmt.Errorf("record mint: %w", err)
	}
	s.release(detached, log, reservation)

	log.Info("claim_succeeded", "recipient_type", string(kind), "token_id", claimed.TokenID)
	return &ClaimResult{TokenID: claimed.TokenID, Record: record}, nil
}

// ListClaims returns every recorded mint for the configured event.
func (s *ClaimService) ListClaims(ctx context.Context) ([]model.MintRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	records, err := s.ledger.ListByEvent(ctx, s.cfg.EventID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return records, nil
}

// classify checks raw against the recipient grammar and, when the client
// declared a type, that the declaration matches.
func classify(raw, declared string) (model.RecipientType, error) {
	kind, err := recipient.Classify(raw)
	if err != nil {
		return "", ErrInvalidRecipient
	}
	if declared == "" {
		return kind, nil
	}
	want, ok := model.ParseRecipientType(declared)
	if !ok || want != kind {
		return "", ErrInvalidRecipient
	}
	return kind, nil
}

func (s *ClaimService) exists(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	exists, err := s.ledger.Exists(ctx, userID, s.cfg.EventID)
	if err != nil {
		return false, fmt.Errorf("check existing claim: %w", err)
	}
	return exists, nil
}

func (s *ClaimService) resolve(ctx context.Context, log *slog.Logger, name string) (common.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	addr, err := s.resolver.Resolve(ctx, name)
	switch {
	case err == nil:
		s.metrics.IncResolution(metrics.ResolutionOK)
		return addr, nil
	case errors.Is(err, ens.ErrNotRegistered):
		s.metrics.IncResolution(metrics.ResolutionNotRegistered)
		log.Info("claim_rejected", "reason", "name_not_registered", "name", name)
	default:
		s.metrics.IncResolution(metrics.ResolutionLookupFailed)
		log.Warn("claim_rejected", "reason", "name_lookup_failed", "name", name, "error", err)
	}
	return common.Address{}, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
}

func (s *ClaimService) reserve(ctx context.Context, userID string) (*ledger.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	return s.ledger.Reserve(ctx, userID, s.cfg.EventID, s.cfg.LockTTL)
}

func (s *ClaimService) release(ctx context.Context, log *slog.Logger, r *ledger.Reservation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()

	if err := r.Release(ctx); err != nil {
		log.Warn("reservation_release_failed", "error", err)
	}
}

func (s *ClaimService) authenticate(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.minter.Authenticate(ctx)
}

func (s *ClaimService) submit(ctx context.Context, token string, req poap.ClaimRequest) (poap.ClaimResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.minter.Claim(ctx, token, req)
}

func (s *ClaimService) write(ctx context.Context, record model.MintRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.ledger.Write(ctx, record)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrAlreadyClaimed):
		return metrics.OutcomeAlreadyClaimed
	case errors.Is(err, ErrClaimInProgress):
		return metrics.OutcomeInProgress
	case errors.Is(err, ErrInvalidRecipient):
		return metrics.OutcomeInvalidRecipient
	case errors.Is(err, ErrResolutionFailed):
		return metrics.OutcomeResolutionFailed
	case errors.Is(err, ErrAuthFailure):
		return metrics.OutcomeAuthFailure
	case errors.Is(err, ErrUpstreamRejected):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeInternal
	}
}
