// Команда dlq-reprocess возвращает события госпитализаций из DLQ в рабочий топик.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/hms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errNotReplayable = errors.New("message is not a replayable dead letter")

type replayConfig struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c replayConfig) validate() error {
	switch {
	case len(c.brokers) == 0:
		return errors.New("kafka brokers are required (--brokers or HMS_KAFKA_BROKERS)")
	case strings.TrimSpace(c.sourceTopic) == "":
		return errors.New("--source-topic is required")
	case strings.TrimSpace(c.targetTopic) == "":
		return errors.New("--target-topic is required")
	case c.limit <= 0:
		return errors.New("--limit must be > 0")
	case c.idleTimeout <= 0:
		return errors.New("--idle-timeout must be > 0")
	}
	return nil
}

// consumerDeadLetter запись, которую consumer кладёт в DLQ после исчерпания ретраев.
type consumerDeadLetter struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxDeadLetter payload конверта, который outbox worker публикует в DLQ.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type replayMessage struct {
	topic string
	key   string
	value []byte
}

// decodeDeadLetter восстанавливает исходное сообщение из записи DLQ.
func decodeDeadLetter(msg *sarama.ConsumerMessage, defaultTopic string, now time.Time) (replayMessage, error) {
	var fromConsumer consumerDeadLetter
	if err := json.Unmarshal(msg.Value, &fromConsumer); err == nil && fromConsumer.OriginalValue != "" {
		topic := strings.TrimSpace(fromConsumer.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return replayMessage{topic: topic, key: fromConsumer.OriginalKey, value: []byte(fromConsumer.OriginalValue)}, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}
	var dead outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dead letter has no original payload")
	}

	restored := kafka.Envelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic: defaultTopic,
		key:   firstNonEmpty(restored.AggregateID, restored.ID),
		value: value,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type offsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Close() error
}

type partitionOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
}

type saramaOpener struct {
	consumer sarama.Consumer
}

func (o saramaOpener) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// rawPublisher отправляет сообщение как есть; реализуется kafka.Producer.
type rawPublisher interface {
	PublishRaw(ctx context.Context, topic, key string, value []byte, headers ...sarama.RecordHeader) error
}

type replayer struct {
	cfg      replayConfig
	offsets  offsetSource
	opener   partitionOpener
	producer rawPublisher
	logger   *log.Entry
	now      func() time.Time
}

// Run проходит партиции source-топика по порядку, пока не исчерпан limit.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.cfg.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.scanPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest && newest-int64(budget) > oldest {
		start = newest - int64(budget)
	}

	reader, err := r.opener.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(r.cfg.idleTimeout):
			return stats, nil
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			stats.scanned++

			replay, err := decodeDeadLetter(msg, r.cfg.targetTopic, r.now())
			if err != nil {
				stats.skipped++
				r.logger.WithError(err).WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset}).
					Warn("skip dead letter")
				continue
			}

			entry := r.logger.WithFields(log.Fields{
				"partition":    msg.Partition,
				"offset":       msg.Offset,
				"target_topic": replay.topic,
				"key":          replay.key,
			})
			if r.cfg.execute {
				if err := r.producer.PublishRaw(ctx, replay.topic, replay.key, replay.value); err != nil {
					return stats, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
				}
				entry.Debug("dead letter replayed")
			} else {
				entry.Info("replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}

func newRootCmd(run func(context.Context, replayConfig) error) *cobra.Command {
	var (
		cfg        replayConfig
		brokersRaw string
	)

	cmd := &cobra.Command{
		Use:           "dlq-reprocess",
		Short:         "Replay admission events from the dead letter topic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.brokers = splitBrokers(brokersRaw)
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&brokersRaw, "brokers", os.Getenv("HMS_KAFKA_BROKERS"), "comma-separated Kafka brokers")
	f.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic")
	f.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicAdmissionEvents, "topic for replayed outbox events")
	f.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan")
	f.BoolVar(&cfg.execute, "execute", false, "publish messages; dry-run otherwise")
	f.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	f.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop a partition after this much silence")
	return cmd
}

func runReplay(ctx context.Context, cfg replayConfig) error {
	logger := log.WithField("component", "dlq-reprocess")

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	r := &replayer{
		cfg:     cfg,
		offsets: client,
		opener:  saramaOpener{consumer: consumer},
		logger:  logger,
		now:     time.Now,
	}
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers, "hms-dlq-reprocess")
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		r.producer = producer
	}

	stats, err := r.Run(ctx)
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	}).Info("dlq replay finished")
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runReplay).ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("dlq replay failed")
		os.Exit(1)
	}
}
