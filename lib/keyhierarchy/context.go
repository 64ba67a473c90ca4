package keyhierarchy

import "fmt"

// Scope names the position of a key within the hierarchy: Root -> Device
// master -> Session -> Stream, plus a Custom escape hatch used for
// auxiliary leaves (audit-event signing, PoP token signing, ...).
type Scope string

const (
	ScopeRoot     Scope = "Root"
	ScopeDevice   Scope = "DeviceMaster"
	ScopeSession  Scope = "Session"
	ScopeStream   Scope = "Stream"
	ScopeCustom   Scope = "Custom"
)

// DeriveContext encodes the HKDF "info" parameter for a single
// derivation, following the "HoneyLink-v1|<Scope>|<ids...>" convention of
// the original key_derivation module.
type DeriveContext struct {
	scope Scope
	ids   []string
}

// DeviceMasterContext derives a device's master key from the root key.
func DeviceMasterContext(deviceID string) DeriveContext {
	return DeriveContext{scope: ScopeDevice, ids: []string{deviceID}}
}

// SessionContext derives a session key from a device master key.
func SessionContext(deviceID, sessionID string) DeriveContext {
	return DeriveContext{scope: ScopeSession, ids: []string{deviceID, sessionID}}
}

// StreamContext derives a stream key from a session key.
func StreamContext(sessionID, streamID string) DeriveContext {
	return DeriveContext{scope: ScopeStream, ids: []string{sessionID, streamID}}
}

// CustomContext derives an auxiliary leaf key (e.g. "audit-signing") from
// whatever parent key the caller supplies.
func CustomContext(label string, ids ...string) DeriveContext {
	return DeriveContext{scope: ScopeCustom, ids: append([]string{label}, ids...)}
}

// Encode renders the context string fed to HKDF as the "info" parameter.
func (c DeriveContext) Encode() []byte {
	s := fmt.Sprintf("HoneyLink-v1|%s", c.scope)
	for _, id := range c.ids {
		s += "|" + id
	}
	return []byte(s)
}

// Scope returns the hierarchy level this context derives into.
func (c DeriveContext) Scope() Scope {
	return c.scope
}
