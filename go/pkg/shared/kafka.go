package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

const commitTimeout = 2 * time.Second

// Message is a consumed record plus the coordinates needed to commit it.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Record is one outgoing message. A zero Time is stamped at send.
type Record struct {
	Key   []byte
	Value []byte
	Time  time.Time
}

type Producer interface {
	ProduceBatch(ctx context.Context, topic string, records []Record) error
	ProduceJSON(ctx context.Context, topic string, key []byte, v any) error
	Close()
}

type Consumer interface {
	Poll(ctx context.Context) (*Message, error)
	Commit(msg *Message) error
	Close()
}

// KafkaProducer keeps one writer per topic, created on first use. Records are
// hashed by key so every symbol stays on one partition.
type KafkaProducer struct {
	cfg KafkaConfig

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

func NewProducer(cfg KafkaConfig) *KafkaProducer {
	return &KafkaProducer{cfg: cfg, writers: make(map[string]*kafka.Writer)}
}

func (p *KafkaProducer) writerFor(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("producer closed")
	}
	w, ok := p.writers[topic]
	if !ok {
		w = newWriter(p.cfg, topic)
		p.writers[topic] = w
	}
	return w, nil
}

func newWriter(cfg KafkaConfig, topic string) *kafka.Writer {
	linger := cfg.LingerMS
	if linger < 0 {
		linger = 0
	}
	batchBytes := cfg.BatchBytes
	if batchBytes < 1 {
		batchBytes = 1
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           requiredAcks(cfg.ProducerAcks),
		BatchTimeout:           time.Duration(linger) * time.Millisecond,
		BatchBytes:             int64(batchBytes),
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{ClientID: cfg.ClientID},
	}
}

func (p *KafkaProducer) ProduceBatch(ctx context.Context, topic string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	w, err := p.writerFor(topic)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, toKafka(records, time.Now().UTC())...)
}

func (p *KafkaProducer) ProduceJSON(ctx context.Context, topic string, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ProduceBatch(ctx, topic, []Record{{Key: key, Value: raw}})
}

// Close flushes and closes every writer. Later produce calls fail.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	writers := p.writers
	p.writers = map[string]*kafka.Writer{}
	p.closed = true
	p.mu.Unlock()

	for _, w := range writers {
		_ = w.Close()
	}
}

func toKafka(records []Record, now time.Time) []kafka.Message {
	out := make([]kafka.Message, len(records))
	for i, rec := range records {
		ts := rec.Time
		if ts.IsZero() {
			ts = now
		}
		out[i] = kafka.Message{Key: rec.Key, Value: rec.Value, Time: ts}
	}
	return out
}

// KafkaConsumer reads one topic as a member of cfg.GroupID. Offsets are only
// committed through Commit.
type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic required")
	}
	start, err := startOffset(cfg.StartOffset)
	if err != nil {
		return nil, err
	}
	return &KafkaConsumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.BrokerList(),
		GroupID:     cfg.GroupID,
		Topic:       topic,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    10e6,
		Dialer:      &kafka.Dialer{ClientID: cfg.ClientID, Timeout: 10 * time.Second, DualStack: true},
	})}, nil
}

func (c *KafkaConsumer) Poll(ctx context.Context) (*Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return fromKafka(m), nil
}

func (c *KafkaConsumer) Commit(msg *Message) error {
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(ctx, kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset})
}

func (c *KafkaConsumer) Close() { _ = c.reader.Close() }

func fromKafka(m kafka.Message) *Message {
	return &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
}

func requiredAcks(raw string) kafka.RequiredAcks {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "all", "-1":
		return kafka.RequireAll
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireOne
	}
}

func startOffset(raw string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "latest":
		return kafka.LastOffset, nil
	case "earliest":
		return kafka.FirstOffset, nil
	default:
		return 0, errors.New("unknown start offset " + raw)
	}
}
