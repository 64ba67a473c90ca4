/*
Copyright 2026 HoneyLink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package types defines the data model shared across the HoneyLink control
// and data plane: devices, sessions, policy instances, key versions and
// audit records.
package types

import (
	"encoding/json"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"
)

// DeviceID uniquely identifies a paired HoneyLink device.
type DeviceID string

// SessionID uniquely identifies a session between two devices.
type SessionID uuid.UUID

// String implements fmt.Stringer.
func (s SessionID) String() string {
	return uuid.UUID(s).String()
}

// NewSessionID mints a time-ordered session identifier.
func NewSessionID() (SessionID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(id), nil
}

// Device is a paired HoneyLink endpoint.
type Device struct {
	ID              DeviceID
	Name            string
	PublicKey       [32]byte
	FirmwareVersion *semver.Version
	PairedAt        time.Time
	LastSeenAt      time.Time
}

// StreamConfig describes a single logical stream requested within a
// session (audio, control, telemetry, bulk transfer, ...).
type StreamConfig struct {
	Name     string `json:"name"`
	Mode     string `json:"mode"`     // "reliable" | "unreliable"
	Priority string `json:"priority"` // "BURST" | "NORMAL" | "LATENCY"
	BandwidthKbps uint32 `json:"bandwidth_kbps"`
}

// Session is the top-level session aggregate tracked by the orchestrator.
type Session struct {
	ID            SessionID
	DeviceID      DeviceID
	State         string
	PolicyID      string
	Streams       []StreamConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PairingExpiry time.Time
	SuspendDeadline time.Time
}

// RawStreams returns the stream configuration encoded for storage.
func (s *Session) RawStreams() (json.RawMessage, error) {
	return json.Marshal(s.Streams)
}

// AuditEvent is an append-only, signed record of a security-relevant
// occurrence (session transition, key rotation, policy rollback, ...).
type AuditEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
	Signature string    `json:"signature,omitempty"`
}
