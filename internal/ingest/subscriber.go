// Package ingest feeds messages published on NATS into the engine.
//
// Subjects:
//
//	tripwire.input.<inputName>   body is the payload object of one message
//	tripwire.batch               body is {"messages": [...]}, one BatchPutMessage call
//
// A single-message publish may carry its message ID in the
// Tripwire-Message-Id header; otherwise the engine assigns one. Requests
// (publishes with a reply subject) are answered with the routing errors.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/metric"
)

// Defaults for subjects and per-message handling.
const (
	DefaultSubject      = "tripwire.input.>"
	DefaultBatchSubject = "tripwire.batch"
	DefaultQueue        = "tripwire"
	DefaultTimeout      = 30 * time.Second

	HeaderMessageID = "Tripwire-Message-Id"
)

// Putter accepts message batches; *engine.Engine implements it.
type Putter interface {
	BatchPutMessage(ctx context.Context, msgs []ir.Message) ([]*engine.RoutingError, error)
}

// Conn is the part of *nats.Conn the subscriber uses.
type Conn interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
}

// BatchRequest is the body of a batch publish.
type BatchRequest struct {
	Messages []ir.Message `json:"messages"`
}

// Response answers a request.
type Response struct {
	Entries []engine.ErrorEntry `json:"batchPutMessageErrorEntries"`
	Error   string              `json:"error,omitempty"`
}

// Subscriber consumes input subjects in a queue group, so several
// interpreters can share the load.
type Subscriber struct {
	conn         Conn
	put          Putter
	subject      string
	batchSubject string
	queue        string
	timeout      time.Duration
	metrics      *metric.Registry

	received *prometheus.CounterVec // status

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithSubjects sets the single-message wildcard subject and the batch
// subject. subject must end in ".>".
func WithSubjects(subject, batch string) Option {
	return func(s *Subscriber) {
		s.subject = subject
		s.batchSubject = batch
	}
}

// WithQueue sets the queue group.
func WithQueue(queue string) Option {
	return func(s *Subscriber) { s.queue = queue }
}

// WithTimeout bounds the BatchPutMessage call of each NATS message.
func WithTimeout(d time.Duration) Option {
	return func(s *Subscriber) { s.timeout = d }
}

// WithMetrics registers the subscriber's counter in r.
func WithMetrics(r *metric.Registry) Option {
	return func(s *Subscriber) { s.metrics = r }
}

// New creates a subscriber that puts messages received on conn.
func New(conn Conn, put Putter, opts ...Option) *Subscriber {
	s := &Subscriber{
		conn:         conn,
		put:          put,
		subject:      DefaultSubject,
		batchSubject: DefaultBatchSubject,
		queue:        DefaultQueue,
		timeout:      DefaultTimeout,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripwire",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "NATS messages handled by status (accepted, rejected, invalid, failed)",
		}, []string{"status"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to both subjects. Handlers use ctx as their parent
// context.
func (s *Subscriber) Start(ctx context.Context) error {
	if !strings.HasSuffix(s.subject, ".>") {
		return fmt.Errorf("ingest subject %q must end in \".>\"", s.subject)
	}
	if s.metrics != nil {
		if err := s.metrics.Register("ingest", "messages", s.received); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subj := range []string{s.subject, s.batchSubject} {
		sub, err := s.conn.QueueSubscribe(subj, s.queue, func(m *nats.Msg) { s.Handle(ctx, m) })
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", subj, err)
		}
		s.subs = append(s.subs, sub)
	}
	slog.Info("ingest subscribed", "subject", s.subject, "batch_subject", s.batchSubject, "queue", s.queue)
	return nil
}

// Stop drains the subscriptions.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
	if s.metrics != nil {
		s.metrics.Unregister("ingest", "messages")
	}
}

func (s *Subscriber) unsubscribeLocked() {
	for _, sub := range s.subs {
		if sub == nil {
			continue
		}
		if err := sub.Drain(); err != nil {
			slog.Warn("ingest drain failed", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

// Handle processes one NATS message. It is the subscription callback and
// is exported for tests and custom transports.
func (s *Subscriber) Handle(ctx context.Context, m *nats.Msg) {
	msgs, err := s.decode(m)
	if err != nil {
		s.received.WithLabelValues("invalid").Inc()
		slog.Warn("ingest message rejected", "subject", m.Subject, "error", err)
		s.reply(m, Response{Entries: []engine.ErrorEntry{}, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rerrs, err := s.put.BatchPutMessage(ctx, msgs)
	if err != nil {
		s.received.WithLabelValues("failed").Add(float64(len(msgs)))
		slog.Error("ingest put failed", "subject", m.Subject, "messages", len(msgs), "error", err)
		s.reply(m, Response{Entries: []engine.ErrorEntry{}, Error: err.Error()})
		return
	}

	s.received.WithLabelValues("rejected").Add(float64(len(rerrs)))
	s.received.WithLabelValues("accepted").Add(float64(len(msgs) - len(rerrs)))
	for _, re := range rerrs {
		slog.Debug("ingest message not routed", "message_id", re.MessageID, "code", re.Code, "input", re.InputName)
	}
	s.reply(m, Response{Entries: engine.ErrorEntries(rerrs)})
}

var errEmptyBatch = errors.New("batch has no messages")

func (s *Subscriber) decode(m *nats.Msg) ([]ir.Message, error) {
	if m.Subject == s.batchSubject {
		var req BatchRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		if len(req.Messages) == 0 {
			return nil, errEmptyBatch
		}
		return req.Messages, nil
	}

	input := strings.TrimPrefix(m.Subject, strings.TrimSuffix(s.subject, ">"))
	if input == "" || input == m.Subject {
		return nil, fmt.Errorf("subject %q names no input", m.Subject)
	}
	v, err := ir.UnmarshalValue(m.Data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	payload, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("payload is %s, want object", ir.TypeName(v))
	}

	msg := ir.Message{InputName: input, Payload: payload}
	if m.Header != nil {
		msg.MessageID = m.Header.Get(HeaderMessageID)
	}
	return []ir.Message{msg}, nil
}

func (s *Subscriber) reply(m *nats.Msg, resp Response) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("ingest reply encode failed", "error", err)
		return
	}
	if err := s.conn.Publish(m.Reply, data); err != nil {
		slog.Warn("ingest reply failed", "reply", m.Reply, "error", err)
	}
}
