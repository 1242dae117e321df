package event

import (
	"context"
	"encoding/json"

	"github.com/rongwang/timebank-server/internal/utils"
)

// Type identifies a domain event emitted after a successful transition.
type Type string

const (
	TypeApplicationReceived          Type = "application_received"
	TypeApplicationAccepted          Type = "application_accepted"
	TypeApplicationDeclined          Type = "application_declined"
	TypeParticipantCancelled         Type = "participant_cancelled"
	TypeExchangeAwaitingConfirmation Type = "exchange_awaiting_confirmation"
	TypeExchangeCompleted            Type = "exchange_completed"
)

// Event is the fire-and-forget payload handed to the notification sink.
// UserID is the user to notify; RelatedIDs carries listing/participant/
// transfer ids for the consumer to resolve.
type Event struct {
	Type       Type              `json:"type"`
	UserID     string            `json:"userId"`
	RelatedIDs map[string]string `json:"relatedIds,omitempty"`
}

// Publisher delivers domain events to the external notification sink.
// Delivery failure must never roll back the transaction that produced the
// event; callers log and drop errors.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the application log. It is the default sink
// when no Kafka brokers are configured.
type LogPublisher struct {
	logger *utils.Logger
}

// NewLogPublisher creates a log-backed publisher
func NewLogPublisher(logger *utils.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.logger.Info("event: %s", payload)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
