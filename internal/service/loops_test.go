package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ozzus/sensu-agent/internal/domain"
	"ozzus/sensu-agent/internal/repository"
	"ozzus/sensu-agent/internal/service"

	"github.com/stretchr/testify/require"
)

var fastLoop = service.LoopConfig{Interval: 10 * time.Millisecond, Retry: 10 * time.Millisecond}

type recordingRunner struct {
	mu     sync.Mutex
	checks []domain.Check
}

func (r *recordingRunner) ProcessCheck(_ context.Context, check domain.Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check)
}

func (r *recordingRunner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, check := range r.checks {
		name, _ := check.Name()
		names = append(names, name)
	}
	return names
}

func runLoop(t *testing.T, run func(context.Context) error) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, run(ctx))
	}()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			stop()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("loop did not stop")
			}
		})
	}
	t.Cleanup(cancel)
	return cancel
}

func TestKeepaliveRebuildsChannelAfterFailure(t *testing.T) {
	t.Parallel()
	broken := newFakeChannel()
	broken.publishErr = errors.New("connection reset")
	healthy := newFakeChannel()
	transport := &fakeTransport{channels: []*fakeChannel{broken, healthy}}
	sender := &fakeSender{}

	keepalive := service.NewKeepaliveScheduler(nil, transport, sender, newFakeConfig(), "1.2.3", fastLoop)
	cancel := runLoop(t, keepalive.Run)

	require.Eventually(t, func() bool { return len(sender.Keepalives()) >= 3 }, 5*time.Second, 10*time.Millisecond)
	require.True(t, keepalive.Healthy())
	cancel()

	require.Equal(t, 2, transport.Opened())
	require.True(t, broken.IsClosed())
	require.True(t, healthy.IsClosed(), "channel closed on stop")
	require.GreaterOrEqual(t, keepalive.Sent(), uint64(3))

	payload := sender.Keepalives()[0]
	require.Equal(t, "web-01", payload["name"])
	require.Equal(t, "1.2.3", payload["version"])
	require.Equal(t, "", payload["plugins"])
	require.Contains(t, payload, "timestamp")
}

func TestKeepaliveStopsWhileRetrying(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{}
	keepalive := service.NewKeepaliveScheduler(nil, transport, &fakeSender{}, newFakeConfig(), "1.2.3",
		service.LoopConfig{Retry: time.Hour})
	cancel := runLoop(t, keepalive.Run)

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.False(t, keepalive.Healthy())
	require.Zero(t, keepalive.Sent())
}

func TestSubscriptionsReceiver(t *testing.T) {
	t.Parallel()
	first := newFakeChannel()
	second := newFakeChannel()
	transport := &fakeTransport{channels: []*fakeChannel{first, second}}
	runner := &recordingRunner{}

	receiver := service.NewSubscriptionsReceiver(nil, transport, newFakeConfig(), runner, fastLoop)
	cancel := runLoop(t, receiver.Run)

	first.deliveries <- repository.Delivery{Subscription: "linux", Body: []byte(`{"name":"disk","command":"check-disk"}`)}
	first.deliveries <- repository.Delivery{Subscription: "linux", Body: []byte(`not json`)}
	require.Eventually(t, func() bool { return receiver.Malformed() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.True(t, receiver.Healthy())

	// a dead delivery stream makes the receiver resubscribe on a new channel
	close(first.deliveries)
	require.Eventually(t, func() bool { return transport.Opened() == 2 }, 5*time.Second, 5*time.Millisecond)
	second.deliveries <- repository.Delivery{Subscription: "linux", Body: []byte(`{"name":"cpu","command":"check-cpu"}`)}

	require.Eventually(t, func() bool { return receiver.Received() == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	require.Equal(t, []string{"disk", "cpu"}, runner.Names())
	require.True(t, first.IsClosed())
	require.True(t, second.IsClosed())
	require.Equal(t, []string{"linux"}, first.subscribed)
}

func TestSubscriptionsReceiverRetriesOpen(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{}
	receiver := service.NewSubscriptionsReceiver(nil, transport, newFakeConfig(), &recordingRunner{}, fastLoop)
	cancel := runLoop(t, receiver.Run)

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.False(t, receiver.Healthy())
	require.Zero(t, receiver.Received())
}

func TestSubscriptionsReceiverPausesAfterLostChannel(t *testing.T) {
	t.Parallel()
	var channels []*fakeChannel
	for range 4 {
		ch := newFakeChannel()
		close(ch.deliveries)
		channels = append(channels, ch)
	}
	transport := &fakeTransport{channels: channels}
	receiver := service.NewSubscriptionsReceiver(nil, transport, newFakeConfig(), &recordingRunner{},
		service.LoopConfig{Interval: 10 * time.Millisecond, Retry: time.Hour})
	cancel := runLoop(t, receiver.Run)

	require.Eventually(t, func() bool { return channels[0].IsClosed() }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, transport.Opened(), "no resubscribe before the retry interval")
	require.False(t, receiver.Healthy())
	cancel()
}
