// Package policy implements the QoS policy engine: versioned profile
// templates, signed policy-update instances broadcast to subscribers,
// and rollback via per-policy snapshots.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/gravitational/trace"
)

// FecMode selects the forward-error-correction strength applied to a
// stream.
type FecMode string

const (
	FecNone  FecMode = "NONE"
	FecLight FecMode = "LIGHT"
	FecHeavy FecMode = "HEAVY"
)

// PowerProfile trades latency/throughput for radio power draw.
type PowerProfile string

const (
	PowerUltraLow PowerProfile = "ULTRA_LOW"
	PowerLow      PowerProfile = "LOW"
	PowerNormal   PowerProfile = "NORMAL"
	PowerHigh     PowerProfile = "HIGH"
)

// UseCase names the application class a profile is tuned for.
type UseCase string

const (
	UseCaseIoT     UseCase = "IOT"
	UseCaseArVr    UseCase = "AR_VR"
	UseCaseMedia8K UseCase = "MEDIA_8K"
	UseCaseGaming  UseCase = "GAMING"
	UseCaseCustom  UseCase = "CUSTOM"
)

// Priority selects how a stream competes for bandwidth in the QoS
// scheduler's admission ordering (distinct from PolicyProfile/Update's
// numeric 0..7 priority field).
type Priority string

const (
	PriorityBurst   Priority = "BURST"
	PriorityNormal  Priority = "NORMAL"
	PriorityLatency Priority = "LATENCY"
)

// MinProfilePriority and MaxProfilePriority bound the Profile/Update
// integer priority field.
const (
	MinProfilePriority = 0
	MaxProfilePriority = 7
)

// Profile is a reusable, signed policy template an administrator
// provisions ahead of time (see Presets).
type Profile struct {
	ProfileID          string
	ProfileName        string
	ProfileVersion     *semver.Version
	UseCase            UseCase
	LatencyBudgetMs     uint32
	BandwidthFloorMbps  float64
	BandwidthCeilingMbps float64
	FecMode             FecMode
	// Priority is the profile's priority, 0..=7.
	Priority            int
	PowerProfile        PowerProfile
	DeprecatedAfter     *time.Time
	Signature           []byte
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Metadata            map[string]string
}

// CanonicalMessage is the exact byte string signed over, matching the
// pipe-separated layout of the profile this module was ported from.
func (p *Profile) CanonicalMessage() []byte {
	s := fmt.Sprintf("%s|%s|%s|%s|%d|%.3f|%.3f|%s|%d|%s",
		p.ProfileID, p.ProfileName, p.ProfileVersion, p.UseCase,
		p.LatencyBudgetMs, p.BandwidthFloorMbps, p.BandwidthCeilingMbps,
		p.FecMode, p.Priority, p.PowerProfile)
	return []byte(s)
}

// Validate enforces the structural invariants every profile must satisfy.
func (p *Profile) Validate() error {
	if !strings.HasPrefix(p.ProfileID, "prof_") {
		return trace.BadParameter("profile id must start with \"prof_\"")
	}
	if p.ProfileName == "" {
		return trace.BadParameter("profile name is required")
	}
	if p.ProfileVersion == nil {
		return trace.BadParameter("profile version is required")
	}
	if p.BandwidthFloorMbps < 0 || p.BandwidthCeilingMbps < p.BandwidthFloorMbps {
		return trace.BadParameter("bandwidth ceiling must be >= floor, both >= 0")
	}
	if p.LatencyBudgetMs == 0 {
		return trace.BadParameter("latency budget must be positive")
	}
	if p.Priority < MinProfilePriority || p.Priority > MaxProfilePriority {
		return trace.BadParameter("priority must be in 0..=7, got %d", p.Priority)
	}
	return nil
}

// IsDeprecated reports whether the profile's deprecation time has passed.
func (p *Profile) IsDeprecated(now time.Time) bool {
	return p.DeprecatedAfter != nil && !now.Before(*p.DeprecatedAfter)
}

// Update is a concrete, signed policy instance pushed to an active
// session, derived from (or overriding) a Profile.
type Update struct {
	PolicyID       string
	SchemaVersion  *semver.Version
	ProfileID      string
	SessionID      string
	// StreamID is the target stream this update applies to, 0..=7.
	StreamID       int
	LatencyBudgetMs uint32
	BandwidthFloorMbps float64
	BandwidthCeilingMbps float64
	FecMode        FecMode
	// Priority is 0..=7.
	Priority       int
	PowerProfile   PowerProfile
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Signature      []byte
}

// MinStreamID and MaxStreamID bound Update.StreamID.
const (
	MinStreamID = 0
	MaxStreamID = 7
)

// CanonicalMessage is the exact byte string signed over.
func (u *Update) CanonicalMessage() []byte {
	s := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%.3f|%.3f|%s|%d|%s|%d|%d",
		u.PolicyID, u.SchemaVersion, u.ProfileID, u.SessionID, u.StreamID,
		u.LatencyBudgetMs, u.BandwidthFloorMbps, u.BandwidthCeilingMbps,
		u.FecMode, u.Priority, u.PowerProfile, u.IssuedAt.Unix(), u.ExpiresAt.Unix())
	return []byte(s)
}

// Validate mirrors Profile.Validate plus the instance-specific id/expiry
// invariants. Expiration is mandatory: an Update with a zero ExpiresAt is
// rejected outright, not treated as "never expires".
func (u *Update) Validate(now time.Time) error {
	if !strings.HasPrefix(u.PolicyID, "pol_") {
		return trace.BadParameter("policy id must start with \"pol_\"")
	}
	if !strings.HasPrefix(u.ProfileID, "prof_") {
		return trace.BadParameter("profile id must start with \"prof_\"")
	}
	if u.SchemaVersion == nil {
		return trace.BadParameter("schema version is required")
	}
	if u.SessionID == "" {
		return trace.BadParameter("session id is required")
	}
	if u.StreamID < MinStreamID || u.StreamID > MaxStreamID {
		return trace.BadParameter("stream id must be in 0..=7, got %d", u.StreamID)
	}
	if u.Priority < MinProfilePriority || u.Priority > MaxProfilePriority {
		return trace.BadParameter("priority must be in 0..=7, got %d", u.Priority)
	}
	if u.LatencyBudgetMs == 0 {
		return trace.BadParameter("latency budget must be positive")
	}
	if u.BandwidthFloorMbps <= 0 || u.BandwidthCeilingMbps < u.BandwidthFloorMbps {
		return trace.BadParameter("bandwidth floor must be positive and ceiling must be >= floor")
	}
	if u.ExpiresAt.IsZero() {
		return trace.BadParameter("expiration is mandatory")
	}
	if !u.ExpiresAt.After(now) {
		return trace.BadParameter("policy update is already expired")
	}
	return nil
}

// IsCompatibleWith reports whether this update may be applied by a
// consumer that understands schema major version target.Major, i.e. the
// major versions match and the update's schema is not older than target.
func (u *Update) IsCompatibleWith(target *semver.Version) bool {
	if u.SchemaVersion == nil || target == nil {
		return false
	}
	return u.SchemaVersion.Major == target.Major && !u.SchemaVersion.LessThan(*target)
}
