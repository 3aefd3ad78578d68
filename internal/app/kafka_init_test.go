package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, "admission-service", log.WithField("test", "kafka"))
	require.NoError(t, err)
	assert.Nil(t, producer)
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	producer, err := initKafkaProducer([]string{"invalid-broker:9999"}, "admission-service", log.WithField("test", "kafka"))
	require.Error(t, err)
	assert.Nil(t, producer)
}

func TestInitKafka_DisabledReturnsNil(t *testing.T) {
	cfg := DefaultConfig()

	rt := initKafka(context.Background(), cfg, log.WithField("test", "kafka"))
	assert.Nil(t, rt)

	// close на nil не должен паниковать.
	rt.close(log.WithField("test", "kafka"))
}

func TestInitKafka_UnreachableBrokersFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = []string{"invalid-broker:9999"}

	rt := initKafka(context.Background(), cfg, log.WithField("test", "kafka"))
	assert.Nil(t, rt)
}
