/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/metrics"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/reconciler"
	"ton-escrow-ledger-go/internal/store"
	"ton-escrow-ledger-go/internal/toncenter"

	"go.uber.org/zap"
)

// ErrPollerHalted is returned once too many consecutive cycles failed
var ErrPollerHalted = errors.New("poller halted after consecutive failures")

// Monitor statuses written to system_status
const (
	StatusRunning  = "running"
	StatusDegraded = "degraded"
	StatusHalted   = "halted"
	StatusStopped  = "stopped"
)

// TransactionSource lists account transactions newer than a logical time
type TransactionSource interface {
	GetTransactionsSince(ctx context.Context, address string, sinceLt uint64, limit int) ([]models.ChainTransaction, error)
}

// DepositProcessor records one inbound transfer
type DepositProcessor interface {
	Process(ctx context.Context, tx models.ChainTransaction) (reconciler.Outcome, error)
}

// PollState is the poller's progress, carried from one cycle to the next
type PollState struct {
	LastLt            uint64
	ConsecutiveErrors int
	LastPollAt        time.Time
	LastSuccessAt     time.Time
	Halted            bool
}

// PollerConfig contains configuration for Poller
type PollerConfig struct {
	Source    TransactionSource
	Processor DepositProcessor
	Store     store.LedgerStore
	Listener  models.ListenerConfig
}

// Poller fetches transfers to the deposit address and hands them to the
// reconciler in logical-time order, advancing a durable checkpoint.
type Poller struct {
	source    TransactionSource
	processor DepositProcessor
	store     store.LedgerStore
	cfg       models.ListenerConfig
	breaker   *breaker

	mutex sync.RWMutex
	state PollState
	err   error

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func NewPoller(cfg PollerConfig) (*Poller, error) {
	if _, err := addressbook.Parse(cfg.Listener.DepositAddress); err != nil {
		return nil, fmt.Errorf("invalid deposit address: %w", err)
	}
	if cfg.Listener.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.Listener.BatchSize)
	}
	if cfg.Listener.MaxConsecutiveErrors <= 0 {
		return nil, fmt.Errorf("max consecutive errors must be positive, got %d", cfg.Listener.MaxConsecutiveErrors)
	}

	return &Poller{
		source:    cfg.Source,
		processor: cfg.Processor,
		store:     cfg.Store,
		cfg:       cfg.Listener,
		breaker:   newBreaker(cfg.Listener.BreakerThreshold, cfg.Listener.BreakerResetTimeout),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start resumes from the stored checkpoint and runs cycles in the background
// until Stop, context cancellation or a halt. With no stored checkpoint and a
// configured StartLt, the checkpoint is seeded from StartLt first.
func (p *Poller) Start(ctx context.Context) error {
	started := false
	var startErr error

	p.startOnce.Do(func() {
		started = true
		p.started.Store(true)

		lt, err := p.store.GetCheckpoint(ctx)
		if err != nil {
			startErr = fmt.Errorf("failed to load checkpoint: %w", err)
			close(p.doneChan)
			return
		}
		if lt == 0 && p.cfg.StartLt > 0 {
			if err := p.store.AdvanceCheckpoint(ctx, p.cfg.StartLt); err != nil {
				startErr = fmt.Errorf("failed to seed checkpoint: %w", err)
				close(p.doneChan)
				return
			}
			lt = p.cfg.StartLt
			zap.L().Info("Seeded checkpoint from configured start", zap.Uint64("lt", lt))
		}
		p.setState(PollState{LastLt: lt})
		metrics.Checkpoint.Set(float64(lt))

		if lt == 0 {
			zap.L().Info("Starting fresh - no previous logical time found")
		} else {
			zap.L().Info("Resuming from logical time", zap.Uint64("lt", lt))
		}

		go p.pollLoop(ctx)

		zap.L().Info("Deposit poller started",
			zap.String("deposit_address", p.cfg.DepositAddress),
			zap.Duration("polling_interval", p.cfg.PollingInterval),
			zap.Duration("error_backoff", p.cfg.ErrorBackoff))
	})

	if !started {
		return fmt.Errorf("poller already started")
	}
	return startErr
}

// Stop asks the loop to exit after the current cycle and waits for it. It
// returns at once if the poller was never started.
func (p *Poller) Stop() {
	if !p.started.Load() {
		return
	}
	p.stopOnce.Do(func() {
		zap.L().Info("Stopping deposit poller")
		close(p.stopChan)
	})
	<-p.doneChan
}

// Done is closed when the loop has exited
func (p *Poller) Done() <-chan struct{} {
	return p.doneChan
}

// Err returns the reason the loop exited; nil after a requested stop
func (p *Poller) Err() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.err
}

func (p *Poller) State() PollState {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.state
}

func (p *Poller) BreakerState() BreakerState {
	return p.breaker.State()
}

func (p *Poller) setState(state PollState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state = state
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer close(p.doneChan)

	for {
		state, err := p.RunCycle(ctx, p.State())
		p.setState(state)

		if state.Halted {
			p.finish(err, StatusHalted)
			return
		}

		wait := p.cfg.PollingInterval
		if err != nil {
			wait = p.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.stopChan:
			timer.Stop()
			p.finish(nil, StatusStopped)
			return
		case <-ctx.Done():
			timer.Stop()
			p.finish(nil, StatusStopped)
			return
		}
	}
}

func (p *Poller) finish(err error, status string) {
	p.mutex.Lock()
	p.err = err
	state := p.state
	p.mutex.Unlock()

	// The last cycle already recorded its outcome
	if statusErr := p.store.UpdateMonitorStatus(context.Background(), status); statusErr != nil {
		zap.L().Warn("Failed to record final poller status", zap.Error(statusErr))
	}

	if err != nil {
		zap.L().Error("Deposit poller halted",
			zap.Int("consecutive_errors", state.ConsecutiveErrors),
			zap.Uint64("last_lt", state.LastLt),
			zap.Error(err))
		return
	}
	zap.L().Info("Deposit poller stopped", zap.Uint64("last_lt", state.LastLt))
}

// RunCycle performs one fetch-and-process pass starting from state.LastLt
// and returns the updated state. The checkpoint only advances over
// transactions that were durably handled, contiguously from the start of
// the batch. Ledger writes are not cancelled by ctx.
func (p *Poller) RunCycle(ctx context.Context, state PollState) (PollState, error) {
	state.LastPollAt = time.Now().UTC()
	writeCtx := context.WithoutCancel(ctx)

	txs, err := p.fetch(ctx, state.LastLt)
	if err != nil {
		return p.failCycle(writeCtx, state, "error", fmt.Errorf("failed to fetch transactions: %w", err))
	}

	checkpoint := state.LastLt
	credited, unassigned, duplicates, ignored := 0, 0, 0, 0
	var processErr error

	for _, tx := range txs {
		if tx.Lt <= checkpoint {
			continue
		}

		if !p.isDeposit(tx) {
			ignored++
			checkpoint = tx.Lt
			continue
		}

		outcome, err := p.processor.Process(writeCtx, tx)
		if err != nil {
			processErr = fmt.Errorf("failed to process transaction %s at lt %d: %w", tx.Hash, tx.Lt, err)
			break
		}

		switch {
		case outcome.Duplicate:
			duplicates++
		case outcome.Skipped != "":
			ignored++
		case outcome.MatchedUserId != "":
			credited++
		default:
			unassigned++
		}
		checkpoint = tx.Lt
	}

	if checkpoint > state.LastLt {
		if err := p.store.AdvanceCheckpoint(writeCtx, checkpoint); err != nil {
			return p.failCycle(writeCtx, state, "ok", fmt.Errorf("failed to advance checkpoint: %w", err))
		}
		state.LastLt = checkpoint
		metrics.Checkpoint.Set(float64(checkpoint))
	}

	if processErr != nil {
		return p.failCycle(writeCtx, state, "ok", processErr)
	}

	if len(txs) > 0 {
		zap.L().Info("Poll cycle completed",
			zap.Int("fetched", len(txs)),
			zap.Int("credited", credited),
			zap.Int("unassigned", unassigned),
			zap.Int("duplicates", duplicates),
			zap.Int("ignored", ignored),
			zap.Uint64("checkpoint", state.LastLt))
	}

	state.ConsecutiveErrors = 0
	state.LastSuccessAt = state.LastPollAt
	metrics.PollCycles.WithLabelValues("ok").Inc()
	metrics.ConsecutiveErrors.Set(0)

	err = p.store.UpdatePollStatus(writeCtx, store.PollStatusParams{
		CheckedAt:     state.LastPollAt,
		Success:       true,
		MonitorStatus: StatusRunning,
		ApiStatus:     "ok",
	})
	if err != nil {
		zap.L().Warn("Failed to record poll status", zap.Error(err))
	}
	return state, nil
}

func (p *Poller) failCycle(ctx context.Context, state PollState, apiStatus string, cause error) (PollState, error) {
	state.ConsecutiveErrors++
	metrics.PollCycles.WithLabelValues("error").Inc()
	metrics.ConsecutiveErrors.Set(float64(state.ConsecutiveErrors))

	err := cause
	status := StatusDegraded
	if errors.Is(cause, toncenter.ErrBacklogTooDeep) {
		state.Halted = true
		status = StatusHalted
		err = fmt.Errorf("%w: checkpoint %d is too far behind the chain head; set LISTENER_START_LT or raise TONCENTER_MAX_PAGES: %w",
			ErrPollerHalted, state.LastLt, cause)
	} else if state.ConsecutiveErrors >= p.cfg.MaxConsecutiveErrors {
		state.Halted = true
		status = StatusHalted
		err = fmt.Errorf("%w: %d in a row, last: %v", ErrPollerHalted, state.ConsecutiveErrors, cause)
	}

	zap.L().Error("Poll cycle failed",
		zap.Int("consecutive_errors", state.ConsecutiveErrors),
		zap.Int("max_consecutive_errors", p.cfg.MaxConsecutiveErrors),
		zap.Uint64("checkpoint", state.LastLt),
		zap.Error(cause))

	statusErr := p.store.UpdatePollStatus(ctx, store.PollStatusParams{
		CheckedAt:         state.LastPollAt,
		Success:           false,
		ConsecutiveErrors: state.ConsecutiveErrors,
		MonitorStatus:     status,
		ApiStatus:         apiStatus,
		LastError:         cause.Error(),
	})
	if statusErr != nil {
		zap.L().Warn("Failed to record poll status", zap.Error(statusErr))
	}
	return state, err
}

// fetch calls the indexer through the circuit breaker, retrying transient
// failures up to MaxRetries times.
func (p *Poller) fetch(ctx context.Context, sinceLt uint64) ([]models.ChainTransaction, error) {
	if err := p.breaker.Allow(); err != nil {
		return nil, err
	}

	attempts := p.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	start := time.Now()
	defer func() { metrics.FetchLatency.Observe(time.Since(start).Seconds()) }()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		txs, err := p.source.GetTransactionsSince(ctx, p.cfg.DepositAddress, sinceLt, p.cfg.BatchSize)
		if err == nil {
			p.breaker.RecordSuccess()
			return txs, nil
		}
		if errors.Is(err, toncenter.ErrBacklogTooDeep) {
			// The indexer answered; the walk is just too long
			p.breaker.RecordSuccess()
			return nil, err
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == attempts {
			break
		}

		zap.L().Warn("Indexer fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_delay", p.cfg.RetryDelay),
			zap.Error(err))

		if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	p.breaker.RecordFailure()
	metrics.FetchErrors.Inc()
	return nil, lastErr
}

// isDeposit filters the account's transactions down to inbound transfers
// worth handing to the reconciler.
func (p *Poller) isDeposit(tx models.ChainTransaction) bool {
	if addressbook.IsNone(tx.Sender) || tx.ValueNano <= 0 {
		return false
	}
	return addressbook.SameAccount(tx.Recipient, p.cfg.DepositAddress)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, toncenter.ErrRequestRejected) && !errors.Is(err, toncenter.ErrBacklogTooDeep)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
