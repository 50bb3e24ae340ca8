package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/metric"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu        sync.Mutex
	handlers  map[string]nats.MsgHandler
	queues    map[string]string
	published []published
	failOn    string
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]nats.MsgHandler{}, queues: map[string]string{}}
}

func (c *fakeConn) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subject == c.failOn {
		return nil, errors.New("permission denied")
	}
	c.handlers[subject] = cb
	c.queues[subject] = queue
	return nil, nil
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{subject, data})
	return nil
}

func (c *fakeConn) response(t *testing.T) Response {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.published, 1)
	var resp Response
	require.NoError(t, json.Unmarshal(c.published[0].data, &resp))
	return resp
}

type fakePutter struct {
	batches [][]ir.Message
	rerrs   []*engine.RoutingError
	err     error
}

func (p *fakePutter) BatchPutMessage(_ context.Context, msgs []ir.Message) ([]*engine.RoutingError, error) {
	p.batches = append(p.batches, msgs)
	return p.rerrs, p.err
}

func startSubscriber(t *testing.T, put Putter, opts ...Option) (*Subscriber, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := New(conn, put, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s, conn
}

func TestSubscriber_SubscribesInQueueGroup(t *testing.T) {
	_, conn := startSubscriber(t, &fakePutter{}, WithQueue("workers"))

	assert.Contains(t, conn.handlers, DefaultSubject)
	assert.Contains(t, conn.handlers, DefaultBatchSubject)
	assert.Equal(t, "workers", conn.queues[DefaultSubject])
}

func TestSubscriber_SingleMessage(t *testing.T) {
	put := &fakePutter{}
	_, conn := startSubscriber(t, put)

	m := nats.NewMsg("tripwire.input.Sensor")
	m.Data = []byte(`{"sensorId": "s1", "temp": 72}`)
	m.Header.Set(HeaderMessageID, "m-1")
	conn.handlers[DefaultSubject](m)

	require.Len(t, put.batches, 1)
	require.Len(t, put.batches[0], 1)
	got := put.batches[0][0]
	assert.Equal(t, "Sensor", got.InputName)
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, ir.Number(72), got.Payload["temp"])
	assert.Empty(t, conn.published, "no reply subject, no reply")
}

func TestSubscriber_Batch(t *testing.T) {
	put := &fakePutter{rerrs: []*engine.RoutingError{{
		Code:      engine.ErrCodeKeyNotFound,
		MessageID: "b",
		InputName: "Sensor",
		Message:   "key sensorId not found",
	}}}
	s, conn := startSubscriber(t, put)

	m := &nats.Msg{
		Subject: DefaultBatchSubject,
		Reply:   "_INBOX.1",
		Data: []byte(`{"messages": [
			{"messageId": "a", "inputName": "Sensor", "payload": {"sensorId": "s1", "temp": 1}},
			{"messageId": "b", "inputName": "Sensor", "payload": {"temp": 2}}
		]}`),
	}
	conn.handlers[DefaultBatchSubject](m)

	require.Len(t, put.batches, 1)
	assert.Len(t, put.batches[0], 2)

	resp := conn.response(t)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "b", resp.Entries[0].MessageID)
	assert.Equal(t, engine.ErrCodeKeyNotFound, resp.Entries[0].ErrorCode)
	assert.Empty(t, resp.Error)

	assert.Equal(t, 1.0, promtest.ToFloat64(s.received.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.received.WithLabelValues("rejected")))
}

func TestSubscriber_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
	}{
		{"not json", "tripwire.input.Sensor", `temp=72`},
		{"not an object", "tripwire.input.Sensor", `[1, 2]`},
		{"empty batch", DefaultBatchSubject, `{"messages": []}`},
		{"bad batch", DefaultBatchSubject, `{"messages": 3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			put := &fakePutter{}
			s, conn := startSubscriber(t, put)

			s.Handle(context.Background(), &nats.Msg{Subject: tt.subject, Reply: "_INBOX.2", Data: []byte(tt.data)})

			assert.Empty(t, put.batches)
			resp := conn.response(t)
			assert.NotEmpty(t, resp.Error)
			assert.NotNil(t, resp.Entries)
			assert.Equal(t, 1.0, promtest.ToFloat64(s.received.WithLabelValues("invalid")))
		})
	}
}

func TestSubscriber_PutFailure(t *testing.T) {
	put := &fakePutter{err: engine.ErrClosed}
	s, conn := startSubscriber(t, put)

	s.Handle(context.Background(), &nats.Msg{Subject: "tripwire.input.Sensor", Reply: "_INBOX.3", Data: []byte(`{}`)})

	resp := conn.response(t)
	assert.Equal(t, engine.ErrClosed.Error(), resp.Error)
	assert.Equal(t, 1.0, promtest.ToFloat64(s.received.WithLabelValues("failed")))
}

func TestSubscriber_StartErrors(t *testing.T) {
	s := New(newFakeConn(), &fakePutter{}, WithSubjects("tripwire.input", DefaultBatchSubject))
	assert.Error(t, s.Start(context.Background()))

	conn := newFakeConn()
	conn.failOn = DefaultBatchSubject
	s = New(conn, &fakePutter{})
	assert.Error(t, s.Start(context.Background()))
}

func TestSubscriber_RegistersMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	s, _ := startSubscriber(t, &fakePutter{}, WithMetrics(reg))

	// A second subscriber on the same registry collides.
	other := New(newFakeConn(), &fakePutter{}, WithMetrics(reg))
	err := other.Start(context.Background())
	assert.ErrorIs(t, err, metric.ErrDuplicate)

	s.Stop()
	assert.NoError(t, other.Start(context.Background()))
	other.Stop()
}
