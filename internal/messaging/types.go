package messaging

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// MessageHandler handles one decoded job message delivered to a worker.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message wraps a single delivered message, core NATS or JetStream.
type Message struct {
	Subject      string
	Data         []byte
	Headers      nats.Header
	ReplySubject string
	msg          *nats.Msg
	jsMsg        jetstream.Msg
}

// Subscription wraps a core NATS subscription.
type Subscription struct {
	sub    *nats.Subscription
	logger *slog.Logger
}

// Ack acknowledges the message; a no-op for core (non-JetStream) messages.
func (m *Message) Ack() error {
	if m.jsMsg != nil {
		return m.jsMsg.Ack()
	}
	return nil
}

// Nak negative-acknowledges the message, requesting redelivery.
func (m *Message) Nak() error {
	if m.jsMsg != nil {
		return m.jsMsg.Nak()
	}
	return nil
}

func (m *Message) Reply(data interface{}) error {
	if m.ReplySubject == "" {
		return fmt.Errorf("no reply subject")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	if m.msg != nil {
		return m.msg.Respond(payload)
	}
	return fmt.Errorf("no underlying message to reply to")
}

func (m *Message) Unmarshal(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

func (m *Message) GetHeader(key string) string {
	return m.Headers.Get(key)
}

func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	s.logger.Info("unsubscribed from subject", slog.String("subject", s.sub.Subject))
	return nil
}

func (s *Subscription) IsValid() bool {
	return s.sub.IsValid()
}

func (s *Subscription) PendingMessages() (int, int, error) {
	return s.sub.Pending()
}

func (s *Subscription) Subject() string {
	return s.sub.Subject
}

func (s *Subscription) Queue() string {
	return s.sub.Queue
}

// Publisher is the core-NATS publish surface Client satisfies: a failed
// publish is returned as an error. The never-raising enqueue surface is
// TaskQueue's Enqueue* methods, not this interface.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Subscriber is the subscribe surface core NATS handlers use.
type Subscriber interface {
	Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error)
	SubscribeQueue(subject, queue string, handler func(*nats.Msg)) (*nats.Subscription, error)
}

// Job kinds (C7). Exactly three: a paper fetch from the upstream client, a
// graph-tier merge of a fully-fetched document, and a cache write-through.
const (
	SubjectFetchFromS2 = "tasks.fetch_from_s2"
	SubjectGraphMerge  = "tasks.graph_merge"
	SubjectSetCache    = "tasks.set_cache"

	TaskStreamName = "TASKS"
	WorkerQueue    = "scholargate-workers"
)

// FetchFromS2Job asks a worker to fetch a paper from the upstream client on
// the caller's behalf, merge it into the graph tier, and populate the
// cache. Fields is optional; an empty selector fetches the canonical full
// view.
type FetchFromS2Job struct {
	PaperID string   `json:"paper_id"`
	Fields  []string `json:"fields,omitempty"`
}

// GraphMergeJob asks a worker to merge an already-fetched full document
// into the graph tier. FullDoc is the upstream response body, untouched.
type GraphMergeJob struct {
	FullDoc json.RawMessage `json:"full_doc"`
}

// SetCacheJob asks a worker to populate the cache tier with doc under the
// normal-view or selector-keyed entry for paperID.
type SetCacheJob struct {
	PaperID string          `json:"paper_id"`
	Doc     json.RawMessage `json:"doc"`
	Fields  []string        `json:"fields,omitempty"`
}

// buildTLSConfig builds a client TLS config from the NATS TLS section.
// Takes scalar fields rather than config.NATSConfig.TLS directly since
// that field's type is an inline anonymous struct.
func buildTLSConfig(enabled bool, certFile, keyFile, caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	if !enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: insecureSkipVerify} //nolint:gosec

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

func currentTimestamp() int64 {
	return time.Now().UnixMilli()
}
