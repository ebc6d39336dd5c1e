package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type received struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *received) deliver(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *received) first() (Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) == 0 {
		return Envelope{}, false
	}
	return r.envs[0], true
}

// roundTrip subscribes on bus, then publishes until the envelope comes
// back. Subscribe confirms asynchronously, so early publishes may be lost.
func roundTrip(t *testing.T, bus Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := &received{}
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, got.deliver) }()

	ev, err := NewEvent("new_message", map[string]string{"text": "hello"})
	require.NoError(t, err)
	sent := Envelope{UserID: uuid.New(), Event: ev}

	require.Eventually(t, func() bool {
		if _, ok := got.first(); ok {
			return true
		}
		assert.NoError(t, bus.Publish(ctx, sent))
		return false
	}, 5*time.Second, 50*time.Millisecond)

	env, _ := got.first()
	assert.Equal(t, sent.UserID, env.UserID)
	assert.Equal(t, "new_message", env.Event.Type)
	assert.JSONEq(t, `{"text":"hello"}`, string(env.Event.Data))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	bus, err := NewRedisBus(context.Background(), "redis://"+mr.Addr(), zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	roundTrip(t, bus)
}

func TestRedisBusRejectsBadURL(t *testing.T) {
	_, err := NewRedisBus(context.Background(), "not a url", zap.NewNop())
	assert.Error(t, err)
}

func TestNATSBusRoundTrip(t *testing.T) {
	srv := natstest.RunRandClientPortServer()
	defer srv.Shutdown()

	bus, err := NewNATSBus(srv.ClientURL(), zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	roundTrip(t, bus)
}

func TestNATSSubjectCarriesUser(t *testing.T) {
	id := uuid.New()
	got, err := userFromSubject(natsSubject(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = userFromSubject(NATSSubjectPrefix + ".nobody")
	assert.Error(t, err)
}
