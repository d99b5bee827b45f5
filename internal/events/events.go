package events

import (
	"context"
	"encoding/json"
	"time"

	"ton-escrow-ledger-go/internal/models"

	"go.uber.org/zap"
)

// Event types
const (
	DepositCredited    = "deposit.credited"
	DepositUnassigned  = "deposit.unassigned"
	DepositAssigned    = "deposit.assigned"
	EscrowEventPrefix  = "escrow."
	WithdrawalRecorded = "withdrawal.recorded"
)

// Event is a ledger change published after its transaction committed
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	UserId     string    `json:"user_id,omitempty"`
	AmountNano int64     `json:"amount_nano,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Status     string    `json:"status,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Emitter publishes events. Publishing is best effort: the ledger is the
// source of truth and callers only log failures.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

func NewDepositEvent(eventType string, tx models.Transaction) Event {
	return Event{
		Type:       eventType,
		Key:        tx.Hash,
		UserId:     tx.UserId,
		AmountNano: tx.AmountNano,
		Amount:     tx.Amount().String(),
		Status:     tx.Status,
		Sender:     tx.Sender,
		OccurredAt: time.Now().UTC(),
	}
}

func NewEscrowEvent(e models.Escrow) Event {
	return Event{
		Type:       EscrowEventPrefix + string(e.Status),
		Key:        e.TransactionId,
		UserId:     e.BuyerId,
		AmountNano: e.AmountNano,
		Amount:     e.Amount().String(),
		Status:     string(e.Status),
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// LogEmitter writes events to the structured log
type LogEmitter struct{}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{}
}

func (l *LogEmitter) Emit(_ context.Context, event Event) error {
	zap.L().Info("Ledger event",
		zap.String("type", event.Type),
		zap.String("key", event.Key),
		zap.String("user_id", event.UserId),
		zap.String("amount", event.Amount))
	return nil
}

func (l *LogEmitter) Close() error {
	return nil
}

// NewEmitter returns a Kafka emitter when brokers are configured and a log
// emitter otherwise.
func NewEmitter(cfg models.EventsConfig) Emitter {
	if len(cfg.KafkaBrokers) == 0 {
		zap.L().Info("No Kafka brokers configured, events go to the log")
		return NewLogEmitter()
	}
	return NewKafkaEmitter(cfg.KafkaBrokers, cfg.Topic)
}
