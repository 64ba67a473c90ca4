package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/honeylink/core/lib/auditlog"
	"github.com/honeylink/core/lib/device"
	"github.com/honeylink/core/lib/keyhierarchy"
	"github.com/honeylink/core/lib/policy"
	"github.com/honeylink/core/lib/qos"
	"github.com/honeylink/core/lib/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	clock := clockwork.NewFakeClock()

	dir, err := os.MkdirTemp("", "web-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	al, err := auditlog.Open(auditlog.Config{Path: dir, Clock: clock, RootSecret: []byte("root-secret-material-for-tests-32")})
	require.NoError(t, err)
	t.Cleanup(func() { al.Close() })

	keys := keyhierarchy.NewKeyRotationManager(clock, keyhierarchy.ScopeDevice, keyhierarchy.DeviceDefault(), make([]byte, 32))
	profiles := policy.NewInMemoryProfileStore()
	orch, err := session.NewOrchestrator(session.Config{
		Clock:     clock,
		Store:     session.NewInMemoryStore(),
		Keys:      keys,
		Profiles:  profiles,
		Bus:       policy.NewEventBus(),
		Scheduler: qos.NewScheduler(qos.DefaultConfig()),
		Audit:     al,
	})
	require.NoError(t, err)

	signer, err := policy.NewSigner()
	require.NoError(t, err)
	return NewServer(device.NewStore(clock), orch, profiles, policy.NewEventBus(), signer, al)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterAndPairDeviceFlow(t *testing.T) {
	s := newTestServer(t)
	router := s.Routes()

	body, _ := json.Marshal(map[string]string{
		"device_id":        "dev-1",
		"public_key":       base64.RawURLEncoding.EncodeToString(make([]byte, 32)),
		"firmware_version": "1.2.3",
	})
	req := httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	code := resp["pairing_code"].(string)
	require.NotEmpty(t, code)

	pairBody, _ := json.Marshal(map[string]string{"pairing_code": code})
	pairReq := httptest.NewRequest(http.MethodPost, "/devices/dev-1/pair", bytes.NewReader(pairBody))
	pairRec := httptest.NewRecorder()
	router.ServeHTTP(pairRec, pairReq)
	require.Equal(t, http.StatusOK, pairRec.Code)
}

func TestPairDeviceRejectsWrongCode(t *testing.T) {
	s := newTestServer(t)
	router := s.Routes()

	body, _ := json.Marshal(map[string]string{
		"device_id":        "dev-2",
		"public_key":       base64.RawURLEncoding.EncodeToString(make([]byte, 32)),
		"firmware_version": "1.0.0",
	})
	req := httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	pairBody, _ := json.Marshal(map[string]string{"pairing_code": "ZZZZ-ZZZZ-ZZZZ"})
	pairReq := httptest.NewRequest(http.MethodPost, "/devices/dev-2/pair", bytes.NewReader(pairBody))
	pairRec := httptest.NewRecorder()
	router.ServeHTTP(pairRec, pairReq)
	require.NotEqual(t, http.StatusOK, pairRec.Code)
}

func TestCreateSessionAllocatesStreams(t *testing.T) {
	s := newTestServer(t)
	router := s.Routes()

	body, _ := json.Marshal(map[string]interface{}{
		"device_id": "dev-3",
		"streams": []map[string]interface{}{
			{"name": "control", "mode": "reliable", "qos": map[string]interface{}{"priority": "NORMAL", "bandwidth_kbps": 100}},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["session_id"])
	streams := resp["streams"].([]interface{})
	require.Len(t, streams, 1)
}

func TestAuditEventsEndpointListsRecords(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Audit.Append(auditlog.CategoryDeviceRegistration, "test", "dev-4", auditlog.OutcomeSuccess, nil, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/audit/events?device_id=dev-4", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	events := resp["events"].([]interface{})
	require.Len(t, events, 1)
}

func TestAuditEventsStreamEndpointSendsSSE(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Audit.Append(auditlog.CategoryKeyRotation, "test", "dev-5", auditlog.OutcomeSuccess, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/audit/events?device_id=dev-5&stream=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Routes().ServeHTTP(rec, req)
		close(done)
	}()

	<-done
	require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
}

func TestPutPolicyProvisionsAndPublishesUpdate(t *testing.T) {
	s := newTestServer(t)
	router := s.Routes()
	sub, unsubscribe := s.Bus.Subscribe()
	defer unsubscribe()

	body, _ := json.Marshal(map[string]interface{}{
		"policy_version": "1.0.0",
		"qos": map[string]interface{}{
			"telemetry": map[string]interface{}{
				"priority":               4,
				"latency_budget_ms":      50,
				"bandwidth_floor_mbps":   1.0,
				"bandwidth_ceiling_mbps": 5.0,
			},
		},
		"fec_mode": "LIGHT",
	})
	req := httptest.NewRequest(http.MethodPut, "/devices/dev-6/policy", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["applied"])
	require.EqualValues(t, 1, resp["sessions_notified"])

	select {
	case ev := <-sub:
		require.Equal(t, policy.EventUpdate, ev.Kind)
		require.Equal(t, "prof_dev-6", ev.Update.ProfileID)
		require.NotEmpty(t, ev.Update.Signature)
	default:
		t.Fatal("expected a policy update event on the bus")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/devices/dev-6/policy", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestPutPolicyRejectsInvalidBandwidth(t *testing.T) {
	s := newTestServer(t)
	router := s.Routes()

	body, _ := json.Marshal(map[string]interface{}{
		"policy_version": "1.0.0",
		"qos": map[string]interface{}{
			"telemetry": map[string]interface{}{
				"priority":               4,
				"latency_budget_ms":      50,
				"bandwidth_floor_mbps":   5.0,
				"bandwidth_ceiling_mbps": 1.0,
			},
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/devices/dev-7/policy", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
