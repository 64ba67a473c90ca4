package auditlog

import (
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Log, clockwork.FakeClock) {
	t.Helper()
	dir, err := os.MkdirTemp("", "auditlog-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	clock := clockwork.NewFakeClock()
	l, err := Open(Config{
		Path:       dir,
		Clock:      clock,
		RootSecret: []byte("test-root-secret-material-32bytes"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, clock
}

func TestAppendAssignsIDAndSignature(t *testing.T) {
	l, clock := newTestLog(t)
	r, err := l.Append(CategoryDevicePairing, "controller", "dev-1", OutcomeSuccess, map[string]string{"k": "v"}, "corr-1")
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	require.NotEmpty(t, r.Signature)
	require.Equal(t, clock.Now().UTC(), r.Timestamp)
	require.True(t, l.Verify(r))
}

func TestVerifyRejectsTamperedRecord(t *testing.T) {
	l, _ := newTestLog(t)
	r, err := l.Append(CategoryKeyRotation, "scheduler", "", OutcomeSuccess, nil, "")
	require.NoError(t, err)

	tampered := r
	tampered.Outcome = OutcomeFailure
	require.False(t, l.Verify(tampered))
}

func TestListReturnsChronologicalOrderAndRespectsCategory(t *testing.T) {
	l, clock := newTestLog(t)
	_, err := l.Append(CategoryDeviceRegistration, "a", "dev-1", OutcomeSuccess, nil, "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = l.Append(CategoryKeyRotation, "a", "dev-1", OutcomeSuccess, nil, "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = l.Append(CategoryKeyRotation, "a", "dev-1", OutcomeSuccess, nil, "")
	require.NoError(t, err)

	all, _, err := l.List(Query{DeviceID: "dev-1"}, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, CategoryDeviceRegistration, all[0].Category)

	onlyRotations, _, err := l.List(Query{DeviceID: "dev-1", Category: CategoryKeyRotation}, "")
	require.NoError(t, err)
	require.Len(t, onlyRotations, 2)
}

func TestListPaginatesWithCursor(t *testing.T) {
	l, clock := newTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := l.Append(CategorySessionCreation, "a", "dev-2", OutcomeSuccess, nil, "")
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	page1, cursor, err := l.List(Query{DeviceID: "dev-2", Limit: 2}, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	page2, _, err := l.List(Query{DeviceID: "dev-2", Limit: 2}, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEqual(t, page1[0].ID, page2[0].ID)
}

func TestToAPIEventMapsFields(t *testing.T) {
	l, _ := newTestLog(t)
	r, err := l.Append(CategoryAccessDenied, "auth", "dev-3", OutcomeFailure, map[string]string{"reason": "bad-token"}, "corr-2")
	require.NoError(t, err)

	ev := r.ToAPIEvent("trace-xyz")
	require.Equal(t, r.ID, ev.ID)
	require.Equal(t, string(CategoryAccessDenied), ev.Type)
	require.Equal(t, "dev-3", ev.DeviceID)
	require.Equal(t, "trace-xyz", ev.TraceID)
	require.Equal(t, r.Signature, ev.Signature)
}
