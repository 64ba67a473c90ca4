// Package auditlog implements HoneyLink's append-only, signed audit
// trail: every record is Ed25519-signed over its canonical JSON form
// and stored in badger keyed so a device's or category's history can
// be scanned in timestamp order. Records are never mutated or deleted
// individually; only a retention sweep removes expired entries.
package auditlog

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/api/types"
	"github.com/honeylink/core/lib/keyhierarchy"
)

// Category is one of the fixed audit event categories the API surface
// exposes for filtering.
type Category string

const (
	CategoryDeviceRegistration Category = "device-registration"
	CategoryDevicePairing      Category = "device-pairing"
	CategoryKeyRotation        Category = "key-rotation"
	CategoryPolicyUpdate       Category = "policy-update"
	CategorySessionCreation    Category = "session-creation"
	CategoryAccessDenied       Category = "access-denied"
	CategoryConfigurationChange Category = "configuration-change"
)

// Outcome is whether the audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
)

// Record is a single immutable audit entry. Signature is computed over
// the JSON encoding of every other field and is never itself part of
// what gets signed.
type Record struct {
	ID            string          `json:"id"`
	Category      Category        `json:"category"`
	Actor         string          `json:"actor"`
	DeviceID      string          `json:"device_id,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Signature     string          `json:"signature,omitempty"`
}

// canonicalBytes returns the bytes signed/verified for r, excluding
// Signature itself.
func (r Record) canonicalBytes() ([]byte, error) {
	cp := r
	cp.Signature = ""
	buf, err := json.Marshal(cp)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return buf, nil
}

// Log is the append-only, badger-backed audit store.
type Log struct {
	mu         sync.Mutex
	db         *badger.DB
	clock      clockwork.Clock
	log        *log.Entry
	signingKey ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
}

// Config configures a Log.
type Config struct {
	Path  string
	Clock clockwork.Clock
	// RootSecret is the root key material from which the audit-signing
	// leaf is derived via keyhierarchy's Custom scope, per the
	// "audit-signing" key-leaf resolution.
	RootSecret []byte
}

// CheckAndSetDefaults validates and fills in Config defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("auditlog: Path is required")
	}
	if len(c.RootSecret) == 0 {
		return trace.BadParameter("auditlog: RootSecret is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// deriveSigningKey derives a deterministic Ed25519 seed from rootSecret
// under the dedicated "audit-signing" custom key-hierarchy leaf, so the
// audit log's signing key rotates in lockstep with root key rotation
// rather than living as an independently managed secret.
func deriveSigningKey(rootSecret []byte) (ed25519.PrivateKey, error) {
	ctx := keyhierarchy.CustomContext("audit-signing")
	seed, err := keyhierarchy.Derive(rootSecret, ctx, ed25519.SeedSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer seed.Zero()
	return ed25519.NewKeyFromSeed(seed.Bytes()), nil
}

// Open opens (or creates) the badger-backed audit log at cfg.Path.
func Open(cfg Config) (*Log, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	signingKey, err := deriveSigningKey(cfg.RootSecret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, trace.Wrap(err, "opening audit log at %s", cfg.Path)
	}
	return &Log{
		db:         db,
		clock:      cfg.Clock,
		log:        log.WithField(trace.Component, honeylink.Component("auditlog")),
		signingKey: signingKey,
		verifyKey:  signingKey.Public().(ed25519.PublicKey),
	}, nil
}

// Close closes the underlying badger database.
func (l *Log) Close() error {
	return l.db.Close()
}

// recordKey orders entries by device (or "_" for device-less records)
// then by a monotonically increasing nanosecond timestamp suffix, so a
// badger prefix scan yields chronological order per device.
func recordKey(deviceID string, ts time.Time, id string) []byte {
	if deviceID == "" {
		deviceID = "_"
	}
	buf := make([]byte, 0, len(deviceID)+1+8+1+len(id))
	buf = append(buf, []byte("audit:"+deviceID+":")...)
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, uint64(ts.UnixNano()))
	buf = append(buf, tsBuf...)
	buf = append(buf, ':')
	buf = append(buf, []byte(id)...)
	return buf
}

// Append signs and persists a new record, returning the stored copy
// (with ID, Timestamp and Signature populated). The timestamp is
// server-assigned: any caller-supplied Timestamp is overwritten.
func (l *Log) Append(category Category, actor, deviceID string, outcome Outcome, detail interface{}, correlationID string) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	var raw json.RawMessage
	if detail != nil {
		raw, err = json.Marshal(detail)
		if err != nil {
			return Record{}, trace.Wrap(err, "marshaling audit detail")
		}
	}
	r := Record{
		ID:            id.String(),
		Category:      category,
		Actor:         actor,
		DeviceID:      deviceID,
		Outcome:       outcome,
		Detail:        raw,
		CorrelationID: correlationID,
		Timestamp:     l.clock.Now().UTC(),
	}
	canon, err := r.canonicalBytes()
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	r.Signature = fmt.Sprintf("%x", ed25519.Sign(l.signingKey, canon))

	buf, err := json.Marshal(r)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := recordKey(deviceID, r.Timestamp, r.ID)
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
	if err != nil {
		return Record{}, trace.Wrap(err, "persisting audit record")
	}
	return r, nil
}

// Record adapts a types.AuditEvent (as emitted by the session
// orchestrator's transition hooks) into an Append call, satisfying
// session.AuditRecorder without that package depending on auditlog.
func (l *Log) Record(ev types.AuditEvent) error {
	_, err := l.Append(Category(ev.Type), "orchestrator", ev.DeviceID, OutcomeSuccess, ev.Detail, ev.TraceID)
	return trace.Wrap(err)
}

// Verify reports whether r's signature is valid over its own fields.
func (l *Log) Verify(r Record) bool {
	canon, err := r.canonicalBytes()
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(r.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(l.verifyKey, canon, sigBytes)
}

// Query filters records for listing.
type Query struct {
	DeviceID string
	Category Category // empty means any
	Since    time.Time
	Limit    int // capped at 1000 per the API surface
}

// List returns records matching q in key order (chronological for a
// single device; with no DeviceID, grouped by device and chronological
// within each), plus an opaque cursor for the next page (empty once
// exhausted).
func (l *Log) List(q Query, cursor string) ([]Record, string, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	prefix := []byte("audit:")
	if q.DeviceID != "" {
		prefix = append(prefix, []byte(q.DeviceID+":")...)
	}

	var out []Record
	var nextCursor string
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		start := prefix
		if cursor != "" {
			start = append(append([]byte{}, prefix...), []byte(cursor)...)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if cursor != "" && bytes.Equal(item.Key(), start) {
				continue
			}
			var r Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return trace.Wrap(err)
			}
			if q.Category != "" && r.Category != q.Category {
				continue
			}
			if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
				continue
			}
			out = append(out, r)
			if len(out) == limit {
				nextCursor = string(item.Key()[len(prefix):])
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	return out, nextCursor, nil
}

// ToAPIEvent converts a Record to the wire-level api/types.AuditEvent
// shape returned by the REST surface.
func (r Record) ToAPIEvent(traceID string) types.AuditEvent {
	return types.AuditEvent{
		ID:        r.ID,
		Type:      string(r.Category),
		DeviceID:  r.DeviceID,
		Detail:    string(r.Detail),
		Timestamp: r.Timestamp,
		TraceID:   traceID,
		Signature: r.Signature,
	}
}
