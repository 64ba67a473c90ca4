package cryptosuite

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	c, err := NewCipher(key)
	require.NoError(t, err)

	aad := []byte("session-123")
	frame, err := c.Encrypt([]byte("hello world"), aad)
	require.NoError(t, err)

	pt, err := c.Decrypt(frame, aad)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(pt))

	_, err = c.Decrypt(frame, []byte("wrong-session"))
	require.Error(t, err, "AAD mismatch must fail authentication")
}

func TestAEADRejectsOversizedPlaintext(t *testing.T) {
	c, err := NewCipher(make([]byte, 32))
	require.NoError(t, err)
	_, err = c.Encrypt(make([]byte, MaxPlaintextSize+1), nil)
	require.Error(t, err)
}

func TestPopTokenGenerateVerify(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessionKey := []byte("session-key-material-32-bytes!!")
	replay := NewMemoryReplayStore(clock.Now)
	gen := NewPopTokenGenerator(clock, sessionKey, replay)

	tok, err := gen.Generate("sess-1", "dev-1", time.Minute, "POST", "/v1/sessions")
	require.NoError(t, err)
	require.NoError(t, gen.Verify(tok))

	// Replay of the same token must fail.
	require.Error(t, gen.Verify(tok))
}

func TestPopTokenExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessionKey := []byte("session-key-material-32-bytes!!")
	gen := NewPopTokenGenerator(clock, sessionKey, NewMemoryReplayStore(clock.Now))

	tok, err := gen.Generate("sess-1", "dev-1", time.Minute, "", "")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.Error(t, gen.Verify(tok))
}

func TestPopTokenCompactRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessionKey := []byte("session-key-material-32-bytes!!")
	gen := NewPopTokenGenerator(clock, sessionKey, NewMemoryReplayStore(clock.Now))

	tok, err := gen.Generate("sess-1", "dev-1", time.Minute, "GET", "/v1/x")
	require.NoError(t, err)

	compact, err := tok.ToCompact()
	require.NoError(t, err)

	parsed, err := PopTokenFromCompact(compact)
	require.NoError(t, err)
	require.Equal(t, tok.Claims, parsed.Claims)
	require.NoError(t, gen.Verify(parsed))
}
