package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/mq"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

// ReconcileOutcome is the result of handling one orphan notice.
type ReconcileOutcome string

const (
	// OutcomeRemoved means the unreferenced payload was removed.
	OutcomeRemoved ReconcileOutcome = "removed"
	// OutcomeReferenced means a reading row references the path, so the payload was kept.
	OutcomeReferenced ReconcileOutcome = "referenced"
	// OutcomeInvalid means the notice could not be decoded and was dropped.
	OutcomeInvalid ReconcileOutcome = "invalid"
	// OutcomeRetry means a transient failure occurred and the notice is requeued.
	OutcomeRetry ReconcileOutcome = "error"
)

const (
	defaultReconcileTimeout = 30 * time.Second
	consumeRetryInterval    = 2 * time.Second
)

// ReconcilerConfig holds the configuration for the Reconciler.
type ReconcilerConfig struct {
	Logger    *slog.Logger
	Metadata  MetadataStore
	Objects   objectstore.Store
	Queue     mq.ClientInterface
	Metrics   *metrics.BackendMetrics // Optional
	MQMetrics *metrics.MQMetrics      // Optional
	QueueName string
	Timeout   time.Duration
}

// Reconciler consumes orphan notices and removes payloads no reading references.
type Reconciler struct {
	logger    *slog.Logger
	metadata  MetadataStore
	objects   objectstore.Store
	queue     mq.ClientInterface
	metrics   *metrics.BackendMetrics
	mqMetrics *metrics.MQMetrics
	queueName string
	timeout   time.Duration
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	if cfg == nil {
		return nil, errors.New("reconciler config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Metadata == nil {
		return nil, errors.New("metadata store cannot be nil")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store cannot be nil")
	}
	if cfg.Queue == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if cfg.Timeout < 0 {
		return nil, errors.New("reconcile timeout must be positive")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultReconcileTimeout
	}
	queueName := cfg.QueueName
	if queueName == "" {
		queueName = OrphanQueue
	}

	return &Reconciler{
		logger:    cfg.Logger,
		metadata:  cfg.Metadata,
		objects:   cfg.Objects,
		queue:     cfg.Queue,
		metrics:   cfg.Metrics,
		mqMetrics: cfg.MQMetrics,
		queueName: queueName,
		timeout:   timeout,
	}, nil
}

// Run consumes notices until ctx is cancelled. When the delivery stream
// closes, for example on a broker reconnect, consumption is restarted.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("starting reconciler", "queue", r.queueName)

	for {
		deliveries, err := r.consume(ctx)
		if err != nil {
			return err
		}

		if done := r.drain(ctx, deliveries); done {
			r.logger.Info("reconciler stopped")
			return nil
		}
		r.logger.Warn("deliveries channel closed, resubscribing")
	}
}

// consume subscribes to the queue, retrying until the client is connected.
func (r *Reconciler) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	for {
		deliveries, err := r.queue.Consume()
		if err == nil {
			return deliveries, nil
		}

		r.logger.Warn("failed to start consuming, retrying", "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("reconciler stopped before consuming: %w", ctx.Err())
		case <-time.After(consumeRetryInterval):
		}
	}
}

// drain handles deliveries until the channel closes or ctx is done, and
// reports whether ctx ended it.
func (r *Reconciler) drain(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case delivery, ok := <-deliveries:
			if !ok {
				return ctx.Err() != nil
			}
			r.handleDelivery(ctx, delivery)
		}
	}
}

func (r *Reconciler) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()
	outcome, err := r.Handle(ctx, delivery.Body)

	if outcome == OutcomeRetry {
		r.logger.Error("failed to reconcile orphan notice, requeueing", "error", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			r.logger.Error("failed to nack message", "error", nackErr)
		}
		r.mqMetrics.ObserveConsume(r.queueName, "transient", true, time.Since(start))
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		r.logger.Error("failed to ack message", "error", ackErr)
	}
	failure := ""
	if outcome == OutcomeInvalid {
		failure = "invalid"
	}
	r.mqMetrics.ObserveConsume(r.queueName, failure, false, time.Since(start))
}

// Handle processes one encoded notice. A payload is removed only when no
// reading row references its path. A non-nil error is returned with
// OutcomeRetry for transient failures and with OutcomeInvalid for notices
// that can never succeed.
func (r *Reconciler) Handle(ctx context.Context, body []byte) (outcome ReconcileOutcome, err error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
			r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	notice, err := UnmarshalOrphanNotice(body)
	if err != nil {
		r.logger.Error("dropping undecodable orphan notice", "error", err)
		return OutcomeInvalid, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	referenced, err := r.metadata.ReadingExistsForPath(ctx, notice.Path)
	if err != nil {
		return OutcomeRetry, fmt.Errorf("failed to check references for %s: %w", notice.Path, err)
	}
	if referenced {
		r.logger.Info("payload is referenced, keeping it",
			"path", notice.Path,
			"reading_id", notice.ReadingID,
		)
		return OutcomeReferenced, nil
	}

	if err := r.objects.Remove(ctx, []string{notice.Path}); err != nil {
		return OutcomeRetry, fmt.Errorf("failed to remove %s: %w", notice.Path, err)
	}

	r.logger.Info("orphaned payload removed",
		"path", notice.Path,
		"reason", string(notice.Reason),
		"reading_id", notice.ReadingID,
		"patient_id", notice.PatientID,
	)
	return OutcomeRemoved, nil
}
