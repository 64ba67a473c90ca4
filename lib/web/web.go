// Package web exposes the HoneyLink REST-like surface over go-chi: a
// thin HTTP layer with no business logic, delegating straight into the
// device, session, policy and audit packages.
package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/api/types"
	"github.com/honeylink/core/lib/auditlog"
	"github.com/honeylink/core/lib/device"
	"github.com/honeylink/core/lib/policy"
	"github.com/honeylink/core/lib/qos"
	"github.com/honeylink/core/lib/session"
)

// policyUpdateTTL bounds how long a policy update pushed via PUT
// .../policy remains valid before a device must be re-provisioned.
const policyUpdateTTL = 24 * time.Hour

// Server bundles every collaborator the REST surface delegates to.
type Server struct {
	Devices  *device.Store
	Sessions *session.Orchestrator
	Policies policy.ProfileStore
	Bus      *policy.EventBus
	Signer   *policy.Signer
	Audit    *auditlog.Log
	log      *log.Entry
}

// NewServer constructs a Server. Neither NewServer nor Routes checks for
// nil collaborators; a handler that reaches a nil one panics, and the
// Recoverer middleware answers that request with a 500.
func NewServer(devices *device.Store, sessions *session.Orchestrator, policies policy.ProfileStore, bus *policy.EventBus, signer *policy.Signer, audit *auditlog.Log) *Server {
	return &Server{
		Devices:  devices,
		Sessions: sessions,
		Policies: policies,
		Bus:      bus,
		Signer:   signer,
		Audit:    audit,
		log:      log.WithField(trace.Component, honeylink.Component("web")),
	}
}

// Routes builds the chi router for the REST surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/devices", s.handleRegisterDevice)
	r.Post("/devices/{device_id}/pair", s.handlePairDevice)
	r.Get("/devices/{device_id}/policy", s.handleGetPolicy)
	r.Put("/devices/{device_id}/policy", s.handlePutPolicy)
	r.Post("/sessions", s.handleCreateSession)
	r.Get("/audit/events", s.handleAuditEvents)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := types.HTTPStatusFor(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type registerDeviceRequest struct {
	DeviceID        string `json:"device_id"`
	PublicKey       string `json:"public_key"` // base64url, 32B
	FirmwareVersion string `json:"firmware_version"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, err, "malformed request body"))
		return
	}
	keyBytes, err := base64.RawURLEncoding.DecodeString(req.PublicKey)
	if err != nil || len(keyBytes) != 32 {
		writeError(w, types.NewError(types.KindValidation, err, "public_key must be 32 bytes, base64url-encoded"))
		return
	}
	var pk [32]byte
	copy(pk[:], keyBytes)

	reg, err := s.Devices.Register(types.DeviceID(req.DeviceID), pk, req.FirmwareVersion, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"device_token":  reg.DeviceToken,
		"pairing_code":  reg.PairingCode,
		"registered_at": reg.RegisteredAt.Format(time.RFC3339),
		"expires_at":    reg.ExpiresAt.Format(time.RFC3339),
	})
}

type pairDeviceRequest struct {
	PairingCode string `json:"pairing_code"`
}

func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := types.DeviceID(chi.URLParam(r, "device_id"))
	var req pairDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, err, "malformed request body"))
		return
	}
	dev, err := s.Devices.Pair(deviceID, req.PairingCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_certificate": "",
		"session_endpoint":   "/sessions",
		"paired_at":          dev.PairedAt.Format(time.RFC3339),
	})
}

type createSessionRequest struct {
	DeviceID string `json:"device_id"`
	Streams  []struct {
		Name string `json:"name"`
		Mode string `json:"mode"`
		QoS  struct {
			Priority      string `json:"priority"`
			BandwidthKbps uint64 `json:"bandwidth_kbps"`
		} `json:"qos"`
	} `json:"streams"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, err, "malformed request body"))
		return
	}
	sess, err := s.Sessions.Pair(types.DeviceID(req.DeviceID))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Sessions.Apply(sess.ID, session.EventPairingComplete); err != nil {
		writeError(w, err)
		return
	}

	reqs := make([]qos.Request, len(req.Streams))
	for i, st := range req.Streams {
		reqs[i] = qos.Request{
			Name:          st.Name,
			Mode:          st.Mode,
			Priority:      policy.Priority(st.QoS.Priority),
			BandwidthKbps: st.QoS.BandwidthKbps,
		}
	}
	grants, err := s.Sessions.RequestStreams(sess.ID, reqs)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.Sessions.Apply(sess.ID, session.EventActivate)
	if err != nil {
		writeError(w, err)
		return
	}

	streamResponses := make([]map[string]interface{}, len(grants))
	for i, g := range grants {
		streamResponses[i] = map[string]interface{}{
			"stream_id":     g.StreamID,
			"name":          g.Name,
			"connection_id": g.ConnectionID,
			"key_material":  base64.RawURLEncoding.EncodeToString(g.KeyMaterial),
			"fec": map[string]interface{}{
				"data_shards":   g.DataShards,
				"parity_shards": g.ParityShards,
			},
		}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": updated.ID.String(),
		"expires_at": updated.PairingExpiry.Format(time.RFC3339),
		"streams":    streamResponses,
	})
}

// deviceProfileID is the profile id a device's own policy is stored
// under: one policy profile per device, provisioned by PUT .../policy.
func deviceProfileID(deviceID string) string {
	return "prof_" + deviceID
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	prof, err := s.Policies.Get(deviceProfileID(deviceID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

type qosStreamPolicy struct {
	Priority             int     `json:"priority"`
	LatencyBudgetMs      uint32  `json:"latency_budget_ms"`
	BandwidthFloorMbps   float64 `json:"bandwidth_floor_mbps"`
	BandwidthCeilingMbps float64 `json:"bandwidth_ceiling_mbps"`
}

type putPolicyRequest struct {
	PolicyVersion string                     `json:"policy_version"`
	QoS           map[string]qosStreamPolicy `json:"qos"`
	FecMode       string                     `json:"fec_mode"`
	PowerProfile  string                     `json:"power_profile"`
}

// handlePutPolicy provisions or updates a device's policy profile and
// publishes one signed policy.Update per requested stream through the
// event bus, so every subscribed session learns of the change.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	var req putPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, err, "malformed request body"))
		return
	}
	version, err := semver.NewVersion(req.PolicyVersion)
	if err != nil {
		writeError(w, types.NewError(types.KindValidation, err, "policy_version must be a valid semver"))
		return
	}
	if len(req.QoS) == 0 {
		writeError(w, types.NewError(types.KindValidation, nil, "qos must list at least one stream"))
		return
	}
	if len(req.QoS) > policy.MaxStreamID+1 {
		writeError(w, types.NewError(types.KindValidation, nil, "qos cannot list more than 8 streams"))
		return
	}
	streamNames := make([]string, 0, len(req.QoS))
	for name := range req.QoS {
		streamNames = append(streamNames, name)
	}
	sort.Strings(streamNames)

	profileID := deviceProfileID(deviceID)
	prof, err := s.Policies.Get(profileID)
	isNew := false
	var typedErr *types.Error
	switch {
	case errors.As(err, &typedErr) && typedErr.Kind == types.KindNotFound:
		isNew = true
		prof = &policy.Profile{
			ProfileID: profileID,
			UseCase:   policy.UseCaseCustom,
			CreatedAt: time.Now().UTC(),
		}
	case err != nil:
		writeError(w, err)
		return
	}

	first := req.QoS[streamNames[0]]
	prof.ProfileName = deviceID + "-policy"
	prof.ProfileVersion = version
	prof.LatencyBudgetMs = first.LatencyBudgetMs
	prof.BandwidthFloorMbps = first.BandwidthFloorMbps
	prof.BandwidthCeilingMbps = first.BandwidthCeilingMbps
	if req.FecMode != "" {
		prof.FecMode = policy.FecMode(req.FecMode)
	}
	if req.PowerProfile != "" {
		prof.PowerProfile = policy.PowerProfile(req.PowerProfile)
	}
	prof.Priority = first.Priority
	prof.UpdatedAt = time.Now().UTC()
	s.Signer.SignProfile(prof)

	if err := prof.Validate(); err != nil {
		writeError(w, types.NewError(types.KindValidation, err, "policy is invalid"))
		return
	}
	if isNew {
		err = s.Policies.Create(prof)
	} else {
		err = s.Policies.Update(prof)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	for idx, name := range streamNames {
		sp := req.QoS[name]
		floor := sp.BandwidthFloorMbps
		ceiling := sp.BandwidthCeilingMbps
		if floor == 0 {
			floor = prof.BandwidthFloorMbps
		}
		if ceiling == 0 {
			ceiling = prof.BandwidthCeilingMbps
		}
		update := &policy.Update{
			PolicyID:             fmt.Sprintf("pol_%s_%d", deviceID, idx),
			SchemaVersion:        version,
			ProfileID:            profileID,
			SessionID:            deviceID,
			StreamID:             idx,
			LatencyBudgetMs:      sp.LatencyBudgetMs,
			BandwidthFloorMbps:   floor,
			BandwidthCeilingMbps: ceiling,
			FecMode:              prof.FecMode,
			Priority:             sp.Priority,
			PowerProfile:         prof.PowerProfile,
			IssuedAt:             now,
			ExpiresAt:            now.Add(policyUpdateTTL),
		}
		if err := update.Validate(now); err != nil {
			writeError(w, types.NewError(types.KindValidation, err, "policy update for stream "+name+" is invalid"))
			return
		}
		s.Signer.SignUpdate(update)
		if err := s.Bus.Publish(update); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"policy_version":    req.PolicyVersion,
		"applied":           true,
		"applied_at":        now.Format(time.RFC3339),
		"sessions_notified": s.Bus.SubscriberCount(),
		"warnings":          []string{},
	})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := auditlog.Query{
		DeviceID: q.Get("device_id"),
		Category: auditlog.Category(q.Get("category")),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			query.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			query.Limit = n
		}
	}

	if q.Get("stream") == "true" {
		s.streamAuditEvents(w, r, query)
		return
	}

	records, cursor, err := s.Audit.List(query, q.Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	events := make([]types.AuditEvent, len(records))
	for i, rec := range records {
		events[i] = rec.ToAPIEvent(r.Header.Get("X-Trace-Id"))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "next": cursor})
}

// streamAuditEvents serves GET /audit/events?stream=true as
// Server-Sent Events, polling the audit log for new records.
func (s *Server) streamAuditEvents(w http.ResponseWriter, r *http.Request, query auditlog.Query) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, types.NewError(types.KindInternal, nil, "streaming unsupported by this connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	cursor := ""
	sent := make(map[string]struct{})
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			records, next, err := s.Audit.List(query, cursor)
			if err != nil {
				s.log.WithError(err).Warn("audit stream poll failed")
				continue
			}
			for _, rec := range records {
				if _, ok := sent[rec.ID]; ok {
					continue
				}
				sent[rec.ID] = struct{}{}
				buf, err := json.Marshal(rec.ToAPIEvent(""))
				if err != nil {
					continue
				}
				_, _ = w.Write([]byte("event: audit\ndata: "))
				_, _ = w.Write(buf)
				_, _ = w.Write([]byte("\n\n"))
			}
			if next != "" {
				cursor = next
			}
			flusher.Flush()
		}
	}
}
