package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/ragchat/internal/chat"
)

// fakeChannel routes published messages to its consumer.
type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	publishErr error
	deliveries chan amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// acker records acknowledgements.
type acker struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue []bool
	done    chan struct{}
}

func newAcker() *acker { return &acker{done: make(chan struct{}, 16)} }

func (a *acker) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *acker) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacks++
	a.requeue = append(a.requeue, requeue)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *acker) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

func (a *acker) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not acknowledged")
	}
}

type fakeIndexer struct {
	mu      sync.Mutex
	entries []chat.MemoryEntry
	err     error
}

func (f *fakeIndexer) Index(_ context.Context, e chat.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func TestPublisherWrite(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewMemoryPublisher(ch, "ragchat.memory")
	require.NoError(t, err)
	assert.Equal(t, []string{"ragchat.memory"}, ch.declared)

	entry := chat.MemoryEntry{UserID: 1, ConversationID: 2, MessageID: 3, Type: "user_message", Text: "hello"}
	p.Write(context.Background(), entry)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)

	var got chat.MemoryEntry
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, entry, got)
}

func TestPublisherWriteSwallowsErrors(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	p, err := NewMemoryPublisher(ch, "q")
	require.NoError(t, err)

	assert.NotPanics(t, func() { p.Write(context.Background(), chat.MemoryEntry{Text: "x"}) })
	assert.Error(t, p.Publish(context.Background(), chat.MemoryEntry{Text: "x"}))
}

func delivery(t *testing.T, a *acker, body any, redelivered bool) amqp.Delivery {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: a, Body: raw, Redelivered: redelivered}
}

func TestWorkerIndexesAndAcks(t *testing.T) {
	ch := newFakeChannel()
	idx := &fakeIndexer{}
	w := NewMemoryWorker(ch, "q", idx)
	require.NoError(t, w.Start(context.Background()))

	a := newAcker()
	ch.deliveries <- delivery(t, a, chat.MemoryEntry{UserID: 1, ConversationID: 4, MessageID: 9, Text: "hi"}, false)
	a.wait(t)

	require.NoError(t, w.Close())
	assert.Equal(t, 1, a.acks)
	require.Len(t, idx.entries, 1)
	assert.Equal(t, int64(9), idx.entries[0].MessageID)
	assert.True(t, ch.closed)
}

func TestWorkerRetriesOnce(t *testing.T) {
	ch := newFakeChannel()
	idx := &fakeIndexer{err: errors.New("embedder down")}
	w := NewMemoryWorker(ch, "q", idx)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	a := newAcker()
	entry := chat.MemoryEntry{ConversationID: 1, MessageID: 1, Text: "hi"}
	ch.deliveries <- delivery(t, a, entry, false)
	a.wait(t)
	ch.deliveries <- delivery(t, a, entry, true)
	a.wait(t)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, []bool{true, false}, a.requeue)
}

func TestWorkerDropsBadPayload(t *testing.T) {
	ch := newFakeChannel()
	w := NewMemoryWorker(ch, "q", &fakeIndexer{})
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	a := newAcker()
	ch.deliveries <- delivery(t, a, []byte("{not json"), false)
	a.wait(t)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, []bool{false}, a.requeue)
}
