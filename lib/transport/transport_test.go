package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyBackoffDuration(t *testing.T) {
	p := DefaultTransportRetryPolicy()
	require.Equal(t, 100*time.Millisecond, p.BackoffDuration(0))
	require.Equal(t, 200*time.Millisecond, p.BackoffDuration(1))
	require.Equal(t, 400*time.Millisecond, p.BackoffDuration(2))
	require.Equal(t, time.Second, p.BackoffDuration(10), "backoff must cap at MaxBackoff")
}

func TestRetryExecutorSucceedsAfterRetries(t *testing.T) {
	e := NewRetryExecutor(RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}, nil)
	attempts := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryExecutorExhausts(t *testing.T) {
	e := NewRetryExecutor(RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}, nil)
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	attempts, _, failures := e.Counters()
	require.EqualValues(t, 3, attempts)
	require.EqualValues(t, 1, failures)
}

func TestCertPinVerifierDisabledAllowsAny(t *testing.T) {
	v := NewCertPinVerifier()
	require.False(t, v.IsPinningEnabled())
	require.True(t, v.ValidatePin(&x509.Certificate{Raw: []byte("anything")}))
}

func TestCertPinVerifierRejectsUnknown(t *testing.T) {
	known := &x509.Certificate{Raw: []byte("known-cert-der")}
	v := NewCertPinVerifier(Fingerprint(known))
	require.True(t, v.ValidatePin(known))
	require.False(t, v.ValidatePin(&x509.Certificate{Raw: []byte("other-cert-der")}))
}

func TestManagerCandidateOrder(t *testing.T) {
	m, err := NewManager(ManagerConfig{Strategy: StrategyQuicOnly})
	require.NoError(t, err)
	require.Equal(t, []ProtocolType{ProtocolTLSALPN}, m.candidateOrder())

	m, err = NewManager(ManagerConfig{Strategy: StrategyWebRTCOnly})
	require.NoError(t, err)
	require.Equal(t, []ProtocolType{ProtocolWebRTC}, m.candidateOrder())
}

func TestManagerConnectFailsWithoutProtocols(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), "example.invalid:443")
	require.Error(t, err)
}
