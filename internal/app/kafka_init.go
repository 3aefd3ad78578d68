package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hms/internal/messaging/kafka"
)

// kafkaRuntime producer и паблишеры outbox; consumer поднимается только для refund-уведомлений.
type kafkaRuntime struct {
	producer  *kafka.Producer
	publisher *kafka.OutboxTopicPublisher
	dlq       *kafka.OutboxTopicPublisher
	consumer  *kafka.Consumer
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// Пустой список означает работу без Kafka: nil, nil.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initKafka поднимает Kafka-обвязку. Ошибка подключения не фатальна: outbox копится до следующего старта.
func initKafka(ctx context.Context, cfg Config, logger *log.Entry) *kafkaRuntime {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil || producer == nil {
		return nil
	}

	rt := &kafkaRuntime{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:       kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic),
	}

	if !cfg.RefundConsumerEnabled {
		return rt
	}

	consumerLogger := logger.WithField("component", "refund-consumer")
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{rt.publisher.Topic()},
		kafka.NewRefundAdvisoryHandler(kafka.LogRefundNotifier(consumerLogger)),
		kafka.ConsumerOptions{
			DLQProducer: producer,
			MaxRetries:  3,
			RetryDelay:  cfg.OutboxRetryDelay,
			Logger:      consumerLogger,
		},
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create refund consumer")
		return rt
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start refund consumer")
		_ = consumer.Stop()
		return rt
	}
	rt.consumer = consumer
	logger.WithField("group", cfg.KafkaConsumerGroup).Info("refund consumer started")
	return rt
}

// close останавливает consumer и закрывает producer.
func (k *kafkaRuntime) close(logger *log.Entry) {
	if k == nil {
		return
	}
	if k.consumer != nil {
		if err := k.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop refund consumer")
		}
	}
	if k.producer == nil {
		return
	}
	if err := k.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
