// Package device implements device registration and the one-shot
// pairing-code handshake that precedes session establishment.
package device

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/honeylink/core/api/types"
)

// PairingCodeTTL is how long a generated pairing code remains valid.
const PairingCodeTTL = 10 * time.Minute

// pairingAlphabet excludes 0/O/1/I/L to avoid operator transcription
// errors, matching the pairing-code grammar.
const pairingAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GeneratePairingCode returns a code of the form XXXX-XXXX-XXXX drawn
// from pairingAlphabet.
func GeneratePairingCode() (string, error) {
	var groups [3]string
	for g := 0; g < 3; g++ {
		var b strings.Builder
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return "", trace.Wrap(err)
		}
		for _, c := range buf {
			b.WriteByte(pairingAlphabet[int(c)%len(pairingAlphabet)])
		}
		groups[g] = b.String()
	}
	return strings.Join(groups[:], "-"), nil
}

// normalizeCode upper-cases and trims a caller-supplied pairing code for
// case-insensitive comparison.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Attestation is optional device-attestation evidence supplied at
// registration.
type Attestation struct {
	Format   string
	Evidence []byte
	Nonce    []byte
}

// Registration is the result of registering a new device.
type Registration struct {
	DeviceToken string
	PairingCode string
	RegisteredAt time.Time
	ExpiresAt   time.Time
}

type pendingPairing struct {
	deviceID  types.DeviceID
	code      string
	expiresAt time.Time
	consumed  bool
}

// Store is the device registry: registered devices plus outstanding,
// not-yet-consumed pairing codes.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	devices  map[types.DeviceID]*types.Device
	pairings map[types.DeviceID]*pendingPairing
}

// NewStore constructs an empty device Store.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:    clock,
		devices:  make(map[types.DeviceID]*types.Device),
		pairings: make(map[types.DeviceID]*pendingPairing),
	}
}

// Register creates (or re-registers) a device, returning a one-shot
// pairing code the caller must present to Pair within PairingCodeTTL.
// firmwareVersion must be a valid semver string.
func (s *Store) Register(deviceID types.DeviceID, publicKey [32]byte, firmwareVersion string, _ *Attestation) (Registration, error) {
	fw, err := semver.NewVersion(firmwareVersion)
	if err != nil {
		return Registration{}, trace.Wrap(types.NewError(types.KindValidation, err, "invalid firmware_version"))
	}
	code, err := GeneratePairingCode()
	if err != nil {
		return Registration{}, trace.Wrap(err)
	}
	now := s.clock.Now().UTC()
	expires := now.Add(PairingCodeTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.devices[deviceID]; ok && existing.PublicKey != publicKey {
		return Registration{}, types.NewError(types.KindConflict, nil, "device_id already registered with a different public key")
	}
	s.devices[deviceID] = &types.Device{
		ID:              deviceID,
		PublicKey:       publicKey,
		FirmwareVersion: fw,
		PairedAt:        time.Time{},
		LastSeenAt:      now,
	}
	s.pairings[deviceID] = &pendingPairing{deviceID: deviceID, code: normalizeCode(code), expiresAt: expires}

	return Registration{
		DeviceToken: "devtok_" + string(deviceID),
		PairingCode: code,
		RegisteredAt: now,
		ExpiresAt:   expires,
	}, nil
}

// Pair consumes deviceID's outstanding pairing code. It fails if the
// device is unknown, the code is wrong, expired, or already consumed.
func (s *Store) Pair(deviceID types.DeviceID, code string) (*types.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[deviceID]
	if !ok {
		return nil, types.NewError(types.KindNotFound, nil, "unknown device_id")
	}
	pending, ok := s.pairings[deviceID]
	if !ok || pending.consumed {
		return nil, types.NewError(types.KindConflict, nil, "no outstanding pairing code for device_id")
	}
	now := s.clock.Now().UTC()
	if now.After(pending.expiresAt) {
		return nil, types.NewError(types.KindConflict, nil, "pairing code expired")
	}
	if normalizeCode(code) != pending.code {
		return nil, types.NewError(types.KindValidation, nil, "pairing code mismatch")
	}
	pending.consumed = true
	dev.PairedAt = now
	dev.LastSeenAt = now
	return dev, nil
}

// Get returns the registered device, if any.
func (s *Store) Get(deviceID types.DeviceID) (*types.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return nil, types.NewError(types.KindNotFound, nil, fmt.Sprintf("device %s not found", deviceID))
	}
	return dev, nil
}
