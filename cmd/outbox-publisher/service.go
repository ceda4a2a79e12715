package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	backoffCeiling      = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	OrdersTopic() string
	OrderedPublisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
}

type publishMetrics interface {
	Published(eventType string)
	Failed(eventType string)
	Deferred(eventType string)
}

// publisher is the slice of *pubsub.Publisher the drain loop needs.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Metrics    publishMetrics
	// Publisher replaces the Pub/Sub publisher for the orders topic.
	Publisher publisher
}

// Service drains outbox_events to the orders topic. Messages carry the order
// id as ordering key, so one order's events reach subscribers in the order
// they were written. Delivery is at least once; consumers dedupe on event_id.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	metrics      publishMetrics
	publisher    publisher
	topic        string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	}

	topic := params.PubSub.OrdersTopic()
	pub := params.Publisher
	if pub == nil {
		p := params.PubSub.OrderedPublisher(topic)
		if p == nil {
			return nil, fmt.Errorf("no publisher for topic %q", topic)
		}
		pub = &gcpPublisher{Publisher: p}
	}

	cfg := params.Config.Outbox
	svc := &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		metrics:      params.Metrics,
		publisher:    pub,
		topic:        topic,
		batchSize:    positiveOr(cfg.BatchSize, fallbackBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, fallbackMaxAttempts),
		pollInterval: fallbackPoll,
	}
	if cfg.PollIntervalMS > 0 {
		svc.pollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	return svc, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Ready pings the database and the orders topic.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}
	return nil
}

// Run polls until ctx is cancelled. Full batches are followed immediately by
// another poll; batch errors back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Ready(ctx); err != nil {
		s.logg.Error(ctx, "outbox.publisher.not_ready", err)
		return err
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox.publisher.stopped")
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.publisher.batch_failed", err)
			wait = nextBackoff(wait, s.pollInterval, backoffCeiling)
		case processed:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}
		if err := sleepCtx(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// delivery tracks one claimed row through dispatch and acknowledgement.
type delivery struct {
	event  models.OutboxEvent
	result publishResult
	err    error
	held   bool
}

// processBatch claims a batch, dispatches every message before waiting on
// any result, then records the outcome of each row. A failure on one order
// holds that order's later events for the next poll; other orders proceed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		processed = true

		deliveries := s.dispatch(ctx, events)
		var errs error
		for _, d := range deliveries {
			errs = multierr.Append(errs, s.record(ctx, tx, d))
		}
		return errs
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, events []models.OutboxEvent) []*delivery {
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	blocked := map[string]bool{}
	deliveries := make([]*delivery, 0, len(events))
	for _, event := range events {
		d := &delivery{event: event}
		deliveries = append(deliveries, d)

		key := orderingKey(event)
		if blocked[key] {
			d.held = true
			continue
		}
		msg, err := s.message(event)
		if err != nil {
			d.err = err
			blocked[key] = true
			continue
		}
		if d.result = s.publisher.Publish(publishCtx, msg); d.result == nil {
			d.err = fmt.Errorf("publisher returned no result for topic %s", s.topic)
			blocked[key] = true
		}
	}

	for _, d := range deliveries {
		if d.result == nil {
			continue
		}
		if _, err := d.result.Get(publishCtx); err != nil {
			d.err = err
			key := orderingKey(d.event)
			if !blocked[key] {
				blocked[key] = true
				s.publisher.ResumePublish(key)
			}
		}
	}
	return deliveries
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, d *delivery) error {
	event := d.event
	eventType := string(event.EventType)
	logCtx := s.logg.WithFields(ctx, s.eventFields(event))

	switch {
	case d.held:
		s.logg.Debug(logCtx, "outbox.event.held")
		s.observe(eventType, "deferred")
		return nil
	case d.err != nil:
		attempt := event.AttemptCount + 1
		logCtx = s.logg.WithFields(logCtx, map[string]any{"attempt_count": attempt, "error": d.err.Error()})
		if attempt >= s.maxAttempts {
			s.logg.Warn(logCtx, "outbox.event.abandoned")
		} else {
			s.logg.Warn(logCtx, "outbox.event.publish_failed")
		}
		s.observe(eventType, "failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark %s failed: %w", event.ID, err)
		}
		return nil
	default:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		s.observe(eventType, "published")
		s.logg.Info(logCtx, "outbox.event.published")
		return nil
	}
}

func (s *Service) observe(eventType, result string) {
	if s.metrics == nil {
		return
	}
	switch result {
	case "published":
		s.metrics.Published(eventType)
	case "failed":
		s.metrics.Failed(eventType)
	case "deferred":
		s.metrics.Deferred(eventType)
	}
}

func (s *Service) message(event models.OutboxEvent) (*gcppubsub.Message, error) {
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: orderingKey(event),
		Attributes: map[string]string{
			"event_id":       envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"schema_version": fmt.Sprint(envelope.Version),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func orderingKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + ":" + event.AggregateID.String()
}

func (s *Service) eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"ordering_key":  orderingKey(event),
		"attempt_count": event.AttemptCount,
		"topic":         s.topic,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, ceiling)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
