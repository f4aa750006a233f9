// Copyright 2026 The RVC Platform Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provision

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/rvcplatform/provisioner/internal/observability/logger"
)

// UpdateConsumer consumes serialized provisioning contexts from the
// external event stream and feeds them into the progress callback
// protocol. Delivery is at-least-once; the reporter tolerates duplicates,
// so every message is committed, including undecodable ones (logged and
// skipped rather than poisoning the partition).
type UpdateConsumer struct {
	reader   *kafka.Reader
	reporter Reporter
}

// UpdateConsumerConfig configures the async update consumer.
type UpdateConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewUpdateConsumer creates a consumer for the async provisioning update
// topic.
func NewUpdateConsumer(cfg UpdateConsumerConfig, reporter Reporter) *UpdateConsumer {
	return &UpdateConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		reporter: reporter,
	}
}

// Run consumes until ctx is canceled.
func (c *UpdateConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		pc, err := ParseContext(msg.Value)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable provisioning update",
				slog.Int64("offset", msg.Offset),
				logger.Error(err))
		} else {
			c.reporter.Update(ctx, pc)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to commit provisioning update offset",
				slog.Int64("offset", msg.Offset),
				logger.Error(err))
		}
	}
}

// Close closes the underlying reader.
func (c *UpdateConsumer) Close() error {
	return c.reader.Close()
}
