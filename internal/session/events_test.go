package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendAssignsMonotonicSeq(t *testing.T) {
	log := NewEventLog()

	first := log.Append(EventStatus, map[string]any{"status": "running"})
	second := log.Append(EventToken, map[string]any{"token": "hello"})

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
}

func TestEventLogSinceReplaysFromSeq(t *testing.T) {
	log := NewEventLog()
	for i := 0; i < 5; i++ {
		log.Append(EventToken, map[string]any{"i": i})
	}

	all := log.Since(0)
	require.Len(t, all, 5)

	tail := log.Since(3)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Seq)
	assert.Equal(t, int64(5), tail[1].Seq)

	assert.Empty(t, log.Since(5))
}

func TestEventLogSubscribeReceivesLiveEvents(t *testing.T) {
	log := NewEventLog()
	ch, cancel := log.Subscribe(4)
	defer cancel()

	sent := log.Append(EventAwaitingApproval, map[string]any{"command": "nmap"})

	select {
	case got := <-ch:
		assert.Equal(t, sent.Seq, got.Seq)
		assert.Equal(t, EventAwaitingApproval, got.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestEventLogSlowSubscriberDropsNotBlocks(t *testing.T) {
	log := NewEventLog()
	_, cancel := log.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody reads the subscription; appends beyond its buffer must
		// not block.
		for i := 0; i < 10; i++ {
			log.Append(EventToken, map[string]any{"i": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("append blocked on a slow subscriber")
	}

	// The full history is still replayable.
	assert.Len(t, log.Since(0), 10)
}

func TestEventLogCancelClosesChannel(t *testing.T) {
	log := NewEventLog()
	ch, cancel := log.Subscribe(4)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent and later appends ignore the gone subscriber.
	cancel()
	log.Append(EventStatus, nil)
}
