package shared

import (
	"context"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredAcks(t *testing.T) {
	cases := map[string]kafka.RequiredAcks{
		"all":  kafka.RequireAll,
		"-1":   kafka.RequireAll,
		" 0 ":  kafka.RequireNone,
		"NONE": kafka.RequireNone,
		"one":  kafka.RequireOne,
		"":     kafka.RequireOne,
	}
	for raw, want := range cases {
		assert.Equal(t, want, requiredAcks(raw), "acks %q", raw)
	}
}

func TestStartOffset(t *testing.T) {
	got, err := startOffset("earliest")
	require.NoError(t, err)
	assert.Equal(t, kafka.FirstOffset, got)

	got, err = startOffset("")
	require.NoError(t, err)
	assert.Equal(t, kafka.LastOffset, got)

	_, err = startOffset("yesterday")
	assert.Error(t, err)
}

func TestToKafkaStampsMissingTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000).UTC()
	set := now.Add(-time.Minute)
	msgs := toKafka([]Record{
		{Key: []byte("BTCUSDT"), Value: []byte(`{}`)},
		{Key: []byte("ETHUSDT"), Value: []byte(`{}`), Time: set},
	}, now)

	require.Len(t, msgs, 2)
	assert.Equal(t, now, msgs[0].Time)
	assert.Equal(t, set, msgs[1].Time)
	assert.Equal(t, []byte("BTCUSDT"), msgs[0].Key)
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(KafkaConfig{}, "  ")
	assert.Error(t, err)

	_, err = NewConsumer(KafkaConfig{StartOffset: "middle"}, "basis.ticks")
	assert.Error(t, err)
}

func TestClosedProducerRefuses(t *testing.T) {
	p := NewProducer(KafkaConfig{Brokers: "localhost:9092"})
	p.Close()
	err := p.ProduceBatch(context.Background(), "basis.ticks", []Record{{Value: []byte(`{}`)}})
	assert.Error(t, err)
	assert.NoError(t, p.ProduceBatch(context.Background(), "basis.ticks", nil))
}
