// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a Kafka source.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// GroupID joins a consumer group whose committed offsets survive
	// restarts. Required.
	GroupID string

	// StartFirst starts a group with no committed offset at the oldest
	// retained record instead of the newest.
	StartFirst bool
}

// kafkaReader is the slice of *kafka.Reader the source uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// Kafka delivers record values from one topic.
type Kafka struct {
	reader  kafkaReader
	topic   string
	decoder *Decoder
	logger  *slog.Logger
}

// NewKafka validates config and creates the consumer-group reader.
// Nothing is fetched until Run.
func NewKafka(config KafkaConfig, decoder *Decoder, logger *slog.Logger) (*Kafka, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka source: at least one broker is required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka source: topic is required")
	}
	if config.GroupID == "" {
		return nil, errors.New("kafka source: group id is required")
	}

	startOffset := kafka.LastOffset
	if config.StartFirst {
		startOffset = kafka.FirstOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafka(reader, config.Topic, decoder, logger), nil
}

func newKafka(reader kafkaReader, topic string, decoder *Decoder, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{
		reader:  reader,
		topic:   topic,
		decoder: decoder,
		logger:  logger.With("topic", topic),
	}
}

// Run fetches records and delivers their values in partition order.
// Each record's offset is committed after the value has been handed to
// the sink, so a crash before the bridge forwards it loses the record
// rather than replaying it.
func (k *Kafka) Run(ctx context.Context, sink Sink) error {
	k.logger.Info("kafka source started")
	for {
		message, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka source: fetching from %s: %w", k.topic, err)
		}

		k.decoder.Deliver(sink, message.Value,
			"partition", message.Partition,
			"offset", message.Offset,
		)

		if err := k.reader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka source: committing offset %d on partition %d: %w",
				message.Offset, message.Partition, err)
		}
	}
}

// Close leaves the consumer group and closes broker connections.
func (k *Kafka) Close() error {
	return k.reader.Close()
}
