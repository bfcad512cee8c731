package stream

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestHubBroadcastsToTopicSubscribers(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{}
	other := &fakeSubscriber{}

	h.Register(TopicAlerts, sub)
	h.Register("critical", other)
	waitFor(t, func() bool { return h.SubscriberCount(TopicAlerts) == 1 && h.SubscriberCount("critical") == 1 })

	h.Broadcast(TopicAlerts, []byte(`{"kind":"pressure_high"}`))
	waitFor(t, func() bool { return sub.received() == 1 })

	if other.received() != 0 {
		t.Fatalf("subscriber received message for a different topic")
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	h := NewHub()
	flaky := &fakeSubscriber{fail: true}
	healthy := &fakeSubscriber{}

	h.Register(TopicAlerts, flaky)
	h.Register(TopicAlerts, healthy)
	waitFor(t, func() bool { return h.SubscriberCount(TopicAlerts) == 2 })

	h.Broadcast(TopicAlerts, []byte("x"))
	waitFor(t, func() bool { return h.SubscriberCount(TopicAlerts) == 1 })

	flaky.mu.Lock()
	closed := flaky.closed
	flaky.mu.Unlock()
	if !closed {
		t.Fatalf("failing subscriber was not closed")
	}
	waitFor(t, func() bool { return healthy.received() == 1 })
}

func TestHubUnregister(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{}

	h.Register(TopicAlerts, sub)
	waitFor(t, func() bool { return h.SubscriberCount(TopicAlerts) == 1 })
	h.Unregister(TopicAlerts, sub)
	waitFor(t, func() bool { return h.SubscriberCount(TopicAlerts) == 0 })

	h.Broadcast(TopicAlerts, []byte("x"))
	time.Sleep(10 * time.Millisecond)
	if sub.received() != 0 {
		t.Fatalf("unregistered subscriber still receives broadcasts")
	}
}
