package persist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"basis-tracker/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type kafkaMetrics struct {
	out     prometheus.Counter
	dropped prometheus.Counter
	batchSz prometheus.Histogram
}

func newKafkaMetrics() kafkaMetrics {
	return kafkaMetrics{
		out:     shared.NewCounter(prometheus.CounterOpts{Name: "export_ticks_total", Help: "Ticks exported to Kafka"}),
		dropped: shared.NewCounter(prometheus.CounterOpts{Name: "export_ticks_dropped_total", Help: "Ticks dropped by the Kafka export"}),
		batchSz: shared.NewHist(prometheus.HistogramOpts{Name: "export_batch_size", Help: "Kafka export batch size", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500}}),
	}
}

// KafkaSink exports accepted ticks as JSON records keyed by symbol. It
// batches by size or interval on one worker so partition order matches
// ingestion order.
type KafkaSink struct {
	producer   shared.Producer
	topic      string
	maxBatch   int
	flushEvery time.Duration
	log        *zap.Logger
	metrics    kafkaMetrics

	mu     sync.RWMutex
	closed bool
	in     chan shared.Tick
	done   chan struct{}
}

func NewKafkaSink(p shared.Producer, topic string, maxBatch int, flushEvery time.Duration, log *zap.Logger) *KafkaSink {
	if maxBatch < 1 {
		maxBatch = 256
	}
	if flushEvery <= 0 {
		flushEvery = 200 * time.Millisecond
	}
	k := &KafkaSink{
		producer:   p,
		topic:      topic,
		maxBatch:   maxBatch,
		flushEvery: flushEvery,
		log:        shared.Component(log, "kafka_sink").With(zap.String("topic", topic)),
		metrics:    newKafkaMetrics(),
		in:         make(chan shared.Tick, 16000),
		done:       make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *KafkaSink) Add(t shared.Tick) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return
	}
	select {
	case k.in <- t:
	default:
		k.metrics.dropped.Inc()
	}
}

// Close drains queued ticks and closes the producer.
func (k *KafkaSink) Close() {
	k.mu.Lock()
	if !k.closed {
		k.closed = true
		close(k.in)
	}
	k.mu.Unlock()
	<-k.done
}

func (k *KafkaSink) run() {
	defer close(k.done)
	defer k.producer.Close()

	batch := make([]shared.Tick, 0, k.maxBatch)
	timer := time.NewTimer(k.flushEvery)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		k.metrics.batchSz.Observe(float64(len(batch)))
		records := make([]shared.Record, 0, len(batch))
		for _, tk := range batch {
			raw, err := json.Marshal(tk)
			if err != nil {
				k.metrics.dropped.Inc()
				continue
			}
			records = append(records, shared.Record{Key: []byte(tk.Symbol), Value: raw, Time: tk.EventTime()})
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := k.producer.ProduceBatch(ctx, k.topic, records)
		cancel()
		if err != nil {
			k.metrics.dropped.Add(float64(len(records)))
			k.log.Warn("batch write failed", zap.Int("records", len(records)), zap.Error(err))
		} else {
			k.metrics.out.Add(float64(len(records)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case tk, ok := <-k.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tk)
			if len(batch) >= k.maxBatch {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(k.flushEvery)
			}
		case <-timer.C:
			flush()
			timer.Reset(k.flushEvery)
		}
	}
}
