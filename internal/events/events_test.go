package events

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"ton-escrow-ledger-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmitter(t *testing.T) {
	emitter := NewEmitter(models.EventsConfig{})
	_, ok := emitter.(*LogEmitter)
	assert.True(t, ok, "expected log emitter without brokers")
	assert.NoError(t, emitter.Emit(context.Background(), Event{Type: DepositCredited}))
	assert.NoError(t, emitter.Close())

	kafkaEmitter := NewEmitter(models.EventsConfig{KafkaBrokers: []string{"localhost:9092"}, Topic: "ledger"})
	_, ok = kafkaEmitter.(*KafkaEmitter)
	assert.True(t, ok, "expected kafka emitter with brokers")
	assert.NoError(t, kafkaEmitter.Close())
}

func TestKafkaEmitter_EmitAfterClose(t *testing.T) {
	emitter := NewKafkaEmitter([]string{"localhost:9092"}, "ledger")
	require.NoError(t, emitter.Close())
	assert.Error(t, emitter.Emit(context.Background(), Event{Type: DepositCredited}))
	assert.NoError(t, emitter.Close())
}

func TestKafkaEmitter_EmitDoesNotHoldLock(t *testing.T) {
	// A broker that accepts connections and never answers
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	emitter := NewKafkaEmitter([]string{listener.Addr().String()}, "ledger")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- emitter.Emit(ctx, Event{Type: DepositCredited, Key: "abc"}) }()

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("emitter never reached the broker")
	}

	if assert.True(t, emitter.mu.TryLock(), "lock held during broker round trip") {
		emitter.mu.Unlock()
	}

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Emit did not return after cancellation")
	}
	_ = emitter.Close()
}

func TestNewDepositEvent(t *testing.T) {
	event := NewDepositEvent(DepositCredited, models.Transaction{
		Hash:       "abc",
		UserId:     "user-1",
		AmountNano: 2_500_000_000,
		Status:     models.TxStatusConfirmed,
	})

	assert.Equal(t, "abc", event.Key)
	assert.Equal(t, "2.5", event.Amount)

	raw, err := event.marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, DepositCredited, decoded["type"])
	assert.Equal(t, "user-1", decoded["user_id"])
}

func TestNewEscrowEvent(t *testing.T) {
	event := NewEscrowEvent(models.Escrow{
		TransactionId: "esc-1",
		BuyerId:       "buyer",
		AmountNano:    10_000_000_000,
		Status:        models.EscrowCompleted,
	})

	assert.Equal(t, "escrow.completed", event.Type)
	assert.Equal(t, "esc-1", event.Key)
	assert.Equal(t, "10", event.Amount)
}
