// Package ledger records which users have claimed which events.
//
// Each claim is stored once under mint:{userId}:{eventId}, and the key is
// appended to the event index mints:{eventId} after the record is written,
// so the index never references a record that was not stored.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/poapgate/poapgate/internal/model"
	"github.com/poapgate/poapgate/internal/store"
)

// Ledger errors.
var (
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrClaimInProgress = errors.New("claim already in progress")
	ErrInvalidID       = errors.New("invalid ledger id")
)

// Key prefixes.
const (
	recordKeyPrefix = "mint:"
	indexKeyPrefix  = "mints:"
	lockKeyPrefix   = "lock:mint:"
)

// Keys join ids with ':' unescaped, so an id containing ':' could alias
// another pair. User ids are numeric Twitter ids and event ids are
// validated as numeric; checkIDs rejects anything else before a key is
// built.
func checkIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" || strings.Contains(id, ":") {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

// RecordKey returns the ledger key for a (user, event) pair.
func RecordKey(userID, eventID string) string {
	return recordKeyPrefix + userID + ":" + eventID
}

// IndexKey returns the set key listing all records of an event.
func IndexKey(eventID string) string {
	return indexKeyPrefix + eventID
}

func lockKey(userID, eventID string) string {
	return lockKeyPrefix + userID + ":" + eventID
}

// Ledger persists MintRecords in a store.Store.
type Ledger struct {
	store store.Store
}

// New creates a Ledger over s.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Exists reports whether userID has a recorded claim for eventID.
func (l *Ledger) Exists(ctx context.Context, userID, eventID string) (bool, error) {
	if err := checkIDs(userID, eventID); err != nil {
		return false, err
	}
	exists, err := l.store.Exists(ctx, RecordKey(userID, eventID))
	if err != nil {
		return false, fmt.Errorf("check mint record: %w", err)
	}
	return exists, nil
}

// Write stores record if no record exists for its (user, event) pair,
// then adds it to the event index. It never overwrites.
func (l *Ledger) Write(ctx context.Context, record model.MintRecord) error {
	if err := checkIDs(record.UserID, record.EventID); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal mint record: %w", err)
	}

	key := RecordKey(record.UserID, record.EventID)

	inserted, err := l.store.SetNX(ctx, key, data, 0)
	if err != nil {
		return fmt.Errorf("store mint record: %w", err)
	}
	if !inserted {
		return ErrAlreadyClaimed
	}

	if err := l.store.AddToSet(ctx, IndexKey(record.EventID), key); err != nil {
		return fmt.Errorf("index mint record: %w", err)
	}

	return nil
}

// ListByEvent returns every record indexed under eventID, oldest first.
// Index entries whose record is missing or unreadable are skipped.
func (l *Ledger) ListByEvent(ctx context.Context, eventID string) ([]model.MintRecord, error) {
	if err := checkIDs(eventID); err != nil {
		return nil, err
	}
	keys, err := l.store.Members(ctx, IndexKey(eventID))
	if err != nil {
		return nil, fmt.Errorf("list event index: %w", err)
	}

	records := make([]model.MintRecord, 0, len(keys))
	if len(keys) == 0 {
		return records, nil
	}

	values, err := l.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load mint records: %w", err)
	}

	for _, data := range values {
		if data == nil {
			continue
		}
		var record model.MintRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].MintedAt.Equal(records[j].MintedAt) {
			return records[i].UserID < records[j].UserID
		}
		return records[i].MintedAt.Before(records[j].MintedAt)
	})

	return records, nil
}

// Reservation holds the claim slot for one (user, event) attempt.
type Reservation struct {
	store store.Store
	key   string
	token string
}

// Token identifies the attempt holding the reservation.
func (r *Reservation) Token() string {
	return r.token
}

// Release frees the slot if this attempt still holds it.
func (r *Reservation) Release(ctx context.Context) error {
	if _, err := r.store.DelIfEqual(ctx, r.key, []byte(r.token)); err != nil {
		return fmt.Errorf("release claim reservation: %w", err)
	}
	return nil
}

// Reserve atomically takes the claim slot for (userID, eventID) for ttl.
// It returns ErrClaimInProgress while another attempt holds the slot.
func (l *Ledger) Reserve(ctx context.Context, userID, eventID string, ttl time.Duration) (*Reservation, error) {
	if err := checkIDs(userID, eventID); err != nil {
		return nil, err
	}
	token := ulid.Make().String()
	key := lockKey(userID, eventID)

	ok, err := l.store.SetNX(ctx, key, []byte(token), ttl)
	if err != nil {
		return nil, fmt.Errorf("reserve claim: %w", err)
	}
	if !ok {
		return nil, ErrClaimInProgress
	}

	return &Reservation{store: l.store, key: key, token: token}, nil
}
