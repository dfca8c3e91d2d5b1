// Package events publishes render job lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/megaartsstore/renderpipe/pkg/models"
)

// JobEvent is emitted when a job reaches a terminal status.
type JobEvent struct {
	JobID       string           `json:"job_id"`
	ProductID   string           `json:"product_id"`
	Status      models.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	Error       *string          `json:"error,omitempty"`
	OutputFiles map[string]any   `json:"output_files,omitempty"`
	ARConfig    *models.ARConfig `json:"ar_config,omitempty"`
	Backend     string           `json:"backend"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// NewJobEvent snapshots job for publishing.
func NewJobEvent(job *models.Job, backend string) JobEvent {
	return JobEvent{
		JobID:       job.JobID,
		ProductID:   job.ProductID,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		OutputFiles: job.OutputFiles,
		ARConfig:    job.ARConfig,
		Backend:     backend,
		OccurredAt:  time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// KafkaPublisher writes events to one topic keyed by job id, so all events of a
// job land on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(p, topic), nil
}

func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, event JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.JobID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                            { return nil }
