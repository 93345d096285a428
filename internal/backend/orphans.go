package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/gait-monitor/pkg/mq"
)

// OrphanReason says how a payload lost its metadata row.
type OrphanReason string

const (
	// ReasonMetadataWriteFailed marks a payload whose reading row was never committed.
	ReasonMetadataWriteFailed OrphanReason = "metadata_write_failed"
	// ReasonRemoveFailed marks a payload whose row was deleted but whose removal failed.
	ReasonRemoveFailed OrphanReason = "payload_remove_failed"
)

// OrphanQueue is the RabbitMQ queue carrying orphan notices.
const OrphanQueue = "orphaned-payloads"

// ErrInvalidNotice is returned when an orphan notice cannot be decoded.
var ErrInvalidNotice = errors.New("invalid orphan notice")

// OrphanNotice describes a stored payload that no reading row references.
type OrphanNotice struct {
	DetectedAt time.Time
	Path       string
	ReadingID  string
	PatientID  string
	Reason     OrphanReason
	Detail     string
}

// Marshal encodes the notice as a protobuf Struct.
func (n OrphanNotice) Marshal() ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"path":        n.Path,
		"reading_id":  n.ReadingID,
		"patient_id":  n.PatientID,
		"reason":      string(n.Reason),
		"detail":      n.Detail,
		"detected_at": n.DetectedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build orphan notice: %w", err)
	}
	return proto.Marshal(msg)
}

// UnmarshalOrphanNotice decodes a notice produced by OrphanNotice.Marshal.
func UnmarshalOrphanNotice(data []byte) (OrphanNotice, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return OrphanNotice{}, fmt.Errorf("%w: %v", ErrInvalidNotice, err)
	}

	fields := msg.GetFields()
	notice := OrphanNotice{
		Path:      fields["path"].GetStringValue(),
		ReadingID: fields["reading_id"].GetStringValue(),
		PatientID: fields["patient_id"].GetStringValue(),
		Reason:    OrphanReason(fields["reason"].GetStringValue()),
		Detail:    fields["detail"].GetStringValue(),
	}
	if notice.Path == "" {
		return OrphanNotice{}, fmt.Errorf("%w: missing path", ErrInvalidNotice)
	}
	if ts := fields["detected_at"].GetStringValue(); ts != "" {
		detectedAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return OrphanNotice{}, fmt.Errorf("%w: detected_at: %v", ErrInvalidNotice, err)
		}
		notice.DetectedAt = detectedAt
	}
	return notice, nil
}

// OrphanReporter records payloads that must be reconciled out of band.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, notice OrphanNotice) error
}

// LogOrphanReporter writes orphan notices to the structured log.
type LogOrphanReporter struct {
	Logger *slog.Logger
}

// ReportOrphan implements OrphanReporter.
func (r *LogOrphanReporter) ReportOrphan(_ context.Context, notice OrphanNotice) error {
	r.Logger.Error("orphaned payload",
		"reconcile", true,
		"path", notice.Path,
		"reading_id", notice.ReadingID,
		"patient_id", notice.PatientID,
		"reason", string(notice.Reason),
		"detail", notice.Detail,
	)
	return nil
}

// MQOrphanReporter logs each notice and publishes it to the orphan queue for
// the reconciler.
type MQOrphanReporter struct {
	log    *LogOrphanReporter
	client mq.ClientInterface
}

// NewMQOrphanReporter creates an MQOrphanReporter publishing through client.
func NewMQOrphanReporter(logger *slog.Logger, client mq.ClientInterface) (*MQOrphanReporter, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	return &MQOrphanReporter{
		log:    &LogOrphanReporter{Logger: logger},
		client: client,
	}, nil
}

// ReportOrphan implements OrphanReporter. The log record is written even when
// publishing fails.
func (r *MQOrphanReporter) ReportOrphan(ctx context.Context, notice OrphanNotice) error {
	_ = r.log.ReportOrphan(ctx, notice)

	body, err := notice.Marshal()
	if err != nil {
		return err
	}
	if err := r.client.Push(ctx, body); err != nil {
		return fmt.Errorf("failed to publish orphan notice: %w", err)
	}
	return nil
}

// Ensure the reporters implement OrphanReporter.
var (
	_ OrphanReporter = (*LogOrphanReporter)(nil)
	_ OrphanReporter = (*MQOrphanReporter)(nil)
)
