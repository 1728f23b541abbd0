package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndDecode(t *testing.T) {
	e, err := New(KindPromotionCandidate, "mystery red", PromotionCandidate{Name: "mystery red", HitCount: 3, Rating: 3.9})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "mystery red", e.Key)
	assert.False(t, e.Time.IsZero())

	var p PromotionCandidate
	require.NoError(t, e.Decode(&p))
	assert.Equal(t, int64(3), p.HitCount)
}

func TestNewRejectsUnencodablePayload(t *testing.T) {
	_, err := New(KindScanCompleted, "k", make(chan int))
	assert.Error(t, err)
}

func TestMemoryPublisher(t *testing.T) {
	m := &Memory{}
	for _, kind := range []Kind{KindScanCompleted, KindPromotionCandidate, KindScanCompleted} {
		e, err := New(kind, "k", struct{}{})
		require.NoError(t, err)
		require.NoError(t, m.Publish(context.Background(), e))
	}
	assert.Len(t, m.Events(), 3)
	assert.Len(t, m.OfKind(KindScanCompleted), 2)
	assert.NoError(t, m.Close())
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}

func TestKafkaConfigMap(t *testing.T) {
	cm := KafkaConfig{
		Brokers:          "localhost:9092",
		Topic:            "vinoscan.events",
		ClientID:         "vinoscan",
		SASLMechanism:    "PLAIN",
		SASLUsername:     "user",
		SASLPassword:     "secret",
		SecurityProtocol: "SASL_SSL",
	}.ConfigMap()

	v, err := cm.Get("bootstrap.servers", "")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9092", v)
	v, err = cm.Get("sasl.username", "")
	require.NoError(t, err)
	assert.Equal(t, "user", v)
	v, err = cm.Get("enable.idempotence", false)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"})
	assert.ErrorContains(t, err, "brokers")
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: "localhost:9092"})
	assert.ErrorContains(t, err, "topic")
}
