package action

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/roach88/tripwire/internal/ir"
)

// Publisher is the core NATS publish call; *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// StreamPublisher is the JetStream publish call; jetstream.JetStream
// satisfies it.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ErrWildcardTopic rejects publishing to an MQTT filter.
var ErrWildcardTopic = errors.New("cannot publish to a wildcard topic")

// NATSSink carries notification, topic, queue and delivery-stream actions
// over NATS. Notifications and topics use core publish; queues and
// streams use JetStream so they are persisted.
//
// Subjects:
//
//	sns       sns.<target>
//	iotTopic  mqtt.<topic with / mapped to .>
//	sqs       queue.<last path segment of the queue URL>
//	firehose  stream.<delivery stream name>
type NATSSink struct {
	nc Publisher
	js StreamPublisher
}

// NATSKinds are the action kinds a NATSSink handles.
var NATSKinds = []ir.ActionKind{
	ir.KindPublishSNS,
	ir.KindPublishMQTT,
	ir.KindSendToQueue,
	ir.KindSendToDeliveryStream,
}

// NewNATSSink creates a sink. js may be nil, in which case queue and
// stream actions fail.
func NewNATSSink(nc Publisher, js StreamPublisher) *NATSSink {
	return &NATSSink{nc: nc, js: js}
}

func (s *NATSSink) Invoke(ctx context.Context, r Resolved) error {
	subject, err := Subject(r)
	if err != nil {
		return err
	}

	switch r.Kind {
	case ir.KindPublishSNS, ir.KindPublishMQTT:
		return s.nc.Publish(subject, r.Payload)
	case ir.KindSendToQueue, ir.KindSendToDeliveryStream:
		if s.js == nil {
			return fmt.Errorf("%s: jetstream is not configured", r.Kind)
		}
		body := r.Payload
		if r.UseBase64 {
			body = []byte(base64.StdEncoding.EncodeToString(body))
		}
		if r.Separator != "" {
			body = append(body[:len(body):len(body)], r.Separator...)
		}
		_, err := s.js.Publish(ctx, subject, body, jetstream.WithMsgID(r.ExecutionID))
		return err
	}
	return fmt.Errorf("%s: %w", r.Kind, ErrNoSink)
}

// Subject maps a resolved action to its NATS subject.
func Subject(r Resolved) (string, error) {
	switch r.Kind {
	case ir.KindPublishSNS:
		return "sns." + token(r.Target), nil
	case ir.KindPublishMQTT:
		return mqttSubject(r.Target)
	case ir.KindSendToQueue:
		return "queue." + token(queueName(r.Target)), nil
	case ir.KindSendToDeliveryStream:
		return "stream." + token(r.Target), nil
	}
	return "", fmt.Errorf("%s has no subject", r.Kind)
}

func mqttSubject(topic string) (string, error) {
	if topic == "" {
		return "", errors.New("empty mqtt topic")
	}
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		if l == "+" || l == "#" {
			return "", fmt.Errorf("%q: %w", topic, ErrWildcardTopic)
		}
		levels[i] = token(l)
	}
	return "mqtt." + strings.Join(levels, "."), nil
}

// token makes s safe as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

func queueName(queueURL string) string {
	if u, err := url.Parse(queueURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return queueURL
}
