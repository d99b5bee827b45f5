package listener

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/database"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/reconciler"
	"ton-escrow-ledger-go/internal/store"
	"ton-escrow-ledger-go/internal/toncenter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	depositAddress    = "EQChssPUobLD1KGyw9ShssPUobLD1KGyw9ShssPUobLD1E36"
	depositAddressRaw = "0:a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4"
	userWallet        = "UQDrY5iulWs_MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOs315"
	otherWallet       = "EQAREREREREREREREREREREREREREREREREREREREREREeYT"
)

type fakeSource struct {
	mu     sync.Mutex
	txs    []models.ChainTransaction
	errs   []error
	calls  int
	since  []uint64
	hangOn bool
}

func (f *fakeSource) GetTransactionsSince(_ context.Context, _ string, sinceLt uint64, _ int) ([]models.ChainTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.since = append(f.since, sinceLt)
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 || !f.hangOn {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	var out []models.ChainTransaction
	for _, tx := range f.txs {
		if tx.Lt > sinceLt {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingProcessor struct {
	next   DepositProcessor
	failAt uint64
	seen   []uint64
	ctxErr error
}

func (f *failingProcessor) Process(ctx context.Context, tx models.ChainTransaction) (reconciler.Outcome, error) {
	f.seen = append(f.seen, tx.Lt)
	f.ctxErr = ctx.Err()
	if tx.Lt == f.failAt {
		return reconciler.Outcome{}, errors.New("disk full")
	}
	return f.next.Process(ctx, tx)
}

func newTestStore(t *testing.T) *database.Service {
	t.Helper()
	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func registerUser(t *testing.T, ledger store.LedgerStore, wallet string) *models.User {
	t.Helper()
	variants, err := addressbook.Variants(wallet)
	require.NoError(t, err)
	canonical, _ := addressbook.Canonical(wallet)
	user, _, err := ledger.CreateUser(context.Background(), store.CreateUserParams{
		ExternalId:       "7",
		WalletAddress:    wallet,
		CanonicalAddress: canonical,
		Variants:         variants,
	})
	require.NoError(t, err)
	return user
}

func listenerConfig() models.ListenerConfig {
	return models.ListenerConfig{
		DepositAddress:       depositAddress,
		PollingInterval:      5 * time.Millisecond,
		ErrorBackoff:         time.Millisecond,
		BatchSize:            50,
		MaxConsecutiveErrors: 3,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
		BreakerThreshold:     10,
		BreakerResetTimeout:  time.Minute,
	}
}

func newTestPoller(t *testing.T, ledger store.LedgerStore, source TransactionSource, processor DepositProcessor, cfg models.ListenerConfig) *Poller {
	t.Helper()
	if processor == nil {
		processor = reconciler.New(ledger, nil)
	}
	poller, err := NewPoller(PollerConfig{
		Source:    source,
		Processor: processor,
		Store:     ledger,
		Listener:  cfg,
	})
	require.NoError(t, err)
	return poller
}

func deposit(lt uint64, sender, recipient string, value int64) models.ChainTransaction {
	return models.ChainTransaction{
		Hash:      fmt.Sprintf("hash-%d", lt),
		Lt:        lt,
		Utime:     1700000000 + int64(lt),
		Sender:    sender,
		Recipient: recipient,
		ValueNano: value,
	}
}

func TestNewPoller_Validation(t *testing.T) {
	ledger := newTestStore(t)

	cfg := listenerConfig()
	cfg.DepositAddress = "garbage"
	_, err := NewPoller(PollerConfig{Source: &fakeSource{}, Store: ledger, Listener: cfg})
	assert.ErrorIs(t, err, addressbook.ErrMalformedAddress)

	cfg = listenerConfig()
	cfg.BatchSize = 0
	_, err = NewPoller(PollerConfig{Source: &fakeSource{}, Store: ledger, Listener: cfg})
	assert.Error(t, err)
}

func TestRunCycle_CreditsAndAdvancesCheckpoint(t *testing.T) {
	ledger := newTestStore(t)
	user := registerUser(t, ledger, userWallet)

	source := &fakeSource{txs: []models.ChainTransaction{
		deposit(10, userWallet, depositAddressRaw, 1_000_000_000),
		deposit(20, otherWallet, depositAddress, 500_000_000),
		deposit(30, userWallet, otherWallet, 9_000_000_000), // outbound
		deposit(40, "", depositAddress, 1),                  // external message
		deposit(50, "EQDrY5iulWs_MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOsyC8", depositAddress, 1_500_000_000),
	}}
	poller := newTestPoller(t, ledger, source, nil, listenerConfig())
	ctx := context.Background()

	state, err := poller.RunCycle(ctx, PollState{})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), state.LastLt)
	assert.Zero(t, state.ConsecutiveErrors)
	assert.False(t, state.LastSuccessAt.IsZero())

	balance, err := ledger.GetBalance(ctx, user.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000_000), balance.CurrentBalance)
	assert.Equal(t, int64(2), balance.DepositCount)

	unassigned, err := ledger.GetUnassignedTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "hash-20", unassigned[0].Hash)

	lt, _ := ledger.GetCheckpoint(ctx)
	assert.Equal(t, uint64(50), lt)

	status, _ := ledger.GetSystemStatus(ctx)
	assert.Equal(t, StatusRunning, status.MonitorStatus)
	assert.NotNil(t, status.LastSuccessAt)

	// A second cycle sees nothing new and changes nothing
	state, err = poller.RunCycle(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), state.LastLt)
	assert.Equal(t, []uint64{0, 50}, source.since)

	balance, _ = ledger.GetBalance(ctx, user.Id)
	assert.Equal(t, int64(2_500_000_000), balance.CurrentBalance)
}

func TestRunCycle_StopsAtFirstProcessingFailure(t *testing.T) {
	ledger := newTestStore(t)
	user := registerUser(t, ledger, userWallet)

	source := &fakeSource{txs: []models.ChainTransaction{
		deposit(10, userWallet, depositAddress, 100),
		deposit(20, userWallet, depositAddress, 200),
		deposit(30, userWallet, depositAddress, 300),
		deposit(40, userWallet, depositAddress, 400),
	}}
	processor := &failingProcessor{next: reconciler.New(ledger, nil), failAt: 30}
	poller := newTestPoller(t, ledger, source, processor, listenerConfig())
	ctx := context.Background()

	state, err := poller.RunCycle(ctx, PollState{})
	require.Error(t, err)
	assert.Equal(t, uint64(20), state.LastLt)
	assert.Equal(t, 1, state.ConsecutiveErrors)
	assert.False(t, state.Halted)
	assert.Equal(t, []uint64{10, 20, 30}, processor.seen)

	lt, _ := ledger.GetCheckpoint(ctx)
	assert.Equal(t, uint64(20), lt)

	status, _ := ledger.GetSystemStatus(ctx)
	assert.Equal(t, StatusDegraded, status.MonitorStatus)
	assert.Contains(t, status.LastError, "disk full")

	processor.failAt = 0
	state, err = poller.RunCycle(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), state.LastLt)
	assert.Zero(t, state.ConsecutiveErrors)

	balance, _ := ledger.GetBalance(ctx, user.Id)
	assert.Equal(t, int64(1000), balance.CurrentBalance)
	assert.Equal(t, int64(4), balance.DepositCount)
}

func TestRunCycle_WritesSurviveCancellation(t *testing.T) {
	ledger := newTestStore(t)
	registerUser(t, ledger, userWallet)

	source := &fakeSource{txs: []models.ChainTransaction{deposit(10, userWallet, depositAddress, 100)}}
	processor := &failingProcessor{next: reconciler.New(ledger, nil)}
	poller := newTestPoller(t, ledger, source, processor, listenerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := poller.RunCycle(ctx, PollState{})
	require.NoError(t, err)
	assert.NoError(t, processor.ctxErr)
	assert.Equal(t, uint64(10), state.LastLt)
}

func TestRunCycle_RetriesTransientFetchErrors(t *testing.T) {
	ledger := newTestStore(t)

	transient := &toncenter.UpstreamError{Op: "getTransactions", StatusCode: 502, Err: errors.New("bad gateway")}
	source := &fakeSource{errs: []error{transient, transient, nil}}
	cfg := listenerConfig()
	cfg.MaxRetries = 3
	poller := newTestPoller(t, ledger, source, nil, cfg)

	_, err := poller.RunCycle(context.Background(), PollState{})
	require.NoError(t, err)
	assert.Equal(t, 3, source.callCount())
}

func TestRunCycle_DoesNotRetryRejectedRequests(t *testing.T) {
	ledger := newTestStore(t)

	source := &fakeSource{errs: []error{fmt.Errorf("%w: HTTP 400", toncenter.ErrRequestRejected)}}
	cfg := listenerConfig()
	cfg.MaxRetries = 3
	poller := newTestPoller(t, ledger, source, nil, cfg)

	state, err := poller.RunCycle(context.Background(), PollState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, toncenter.ErrRequestRejected)
	assert.Equal(t, 1, source.callCount())
	assert.Equal(t, 1, state.ConsecutiveErrors)
}

func TestRunCycle_HaltsAfterConsecutiveErrors(t *testing.T) {
	ledger := newTestStore(t)

	source := &fakeSource{errs: []error{errors.New("timeout")}, hangOn: true}
	cfg := listenerConfig()
	cfg.MaxConsecutiveErrors = 2
	poller := newTestPoller(t, ledger, source, nil, cfg)
	ctx := context.Background()

	state, err := poller.RunCycle(ctx, PollState{})
	require.Error(t, err)
	assert.False(t, state.Halted)

	state, err = poller.RunCycle(ctx, state)
	require.Error(t, err)
	assert.True(t, state.Halted)
	assert.ErrorIs(t, err, ErrPollerHalted)

	status, _ := ledger.GetSystemStatus(ctx)
	assert.Equal(t, StatusHalted, status.MonitorStatus)
	assert.Equal(t, int64(2), status.ConsecutiveErrors)
}

func TestRunCycle_CircuitBreaker(t *testing.T) {
	ledger := newTestStore(t)

	source := &fakeSource{errs: []error{errors.New("down"), errors.New("down"), nil}}
	cfg := listenerConfig()
	cfg.BreakerThreshold = 2
	cfg.MaxConsecutiveErrors = 10
	poller := newTestPoller(t, ledger, source, nil, cfg)

	now := time.Now()
	poller.breaker.now = func() time.Time { return now }
	ctx := context.Background()

	state, _ := poller.RunCycle(ctx, PollState{})
	state, _ = poller.RunCycle(ctx, state)
	assert.Equal(t, BreakerOpen, poller.BreakerState())

	state, err := poller.RunCycle(ctx, state)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, source.callCount(), "open breaker must not call the indexer")

	now = now.Add(time.Minute + time.Second)
	_, err = poller.RunCycle(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, poller.BreakerState())
	assert.Equal(t, 3, source.callCount())
}

func TestPoller_StartStop(t *testing.T) {
	ledger := newTestStore(t)
	user := registerUser(t, ledger, userWallet)
	require.NoError(t, ledger.AdvanceCheckpoint(context.Background(), 5))

	source := &fakeSource{txs: []models.ChainTransaction{
		deposit(3, userWallet, depositAddress, 999), // below the stored checkpoint
		deposit(10, userWallet, depositAddress, 100),
	}}
	poller := newTestPoller(t, ledger, source, nil, listenerConfig())

	require.NoError(t, poller.Start(context.Background()))
	assert.Error(t, poller.Start(context.Background()))

	assert.Eventually(t, func() bool { return poller.State().LastLt == 10 }, 2*time.Second, 5*time.Millisecond)

	poller.Stop()
	poller.Stop()

	select {
	case <-poller.Done():
	default:
		t.Fatal("expected Done to be closed after Stop")
	}
	assert.NoError(t, poller.Err())

	source.mu.Lock()
	assert.Equal(t, uint64(5), source.since[0])
	source.mu.Unlock()

	balance, _ := ledger.GetBalance(context.Background(), user.Id)
	assert.Equal(t, int64(100), balance.CurrentBalance)

	status, _ := ledger.GetSystemStatus(context.Background())
	assert.Equal(t, StatusStopped, status.MonitorStatus)
}

func TestPoller_HaltEndsLoop(t *testing.T) {
	ledger := newTestStore(t)

	source := &fakeSource{errs: []error{errors.New("down")}, hangOn: true}
	cfg := listenerConfig()
	cfg.MaxConsecutiveErrors = 3
	poller := newTestPoller(t, ledger, source, nil, cfg)

	require.NoError(t, poller.Start(context.Background()))

	select {
	case <-poller.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not halt")
	}

	assert.ErrorIs(t, poller.Err(), ErrPollerHalted)
	assert.True(t, poller.State().Halted)
	assert.Equal(t, 3, source.callCount())

	status, err := ledger.GetSystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHalted, status.MonitorStatus)
	assert.Equal(t, int64(3), status.ConsecutiveErrors)
	assert.Equal(t, int64(3), status.ErrorCount, "each failed cycle is counted once")
	assert.Nil(t, status.LastSuccessAt)
}

func TestPoller_StopKeepsLastPollOutcome(t *testing.T) {
	ledger := newTestStore(t)

	source := &fakeSource{errs: []error{errors.New("down")}, hangOn: true}
	cfg := listenerConfig()
	cfg.MaxConsecutiveErrors = 1000
	cfg.ErrorBackoff = time.Hour
	poller := newTestPoller(t, ledger, source, nil, cfg)

	require.NoError(t, poller.Start(context.Background()))
	assert.Eventually(t, func() bool { return poller.State().ConsecutiveErrors == 1 }, 2*time.Second, 5*time.Millisecond)

	poller.Stop()
	assert.NoError(t, poller.Err())

	status, err := ledger.GetSystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, status.MonitorStatus)
	assert.Nil(t, status.LastSuccessAt, "stopping is not a successful poll")
	assert.Equal(t, int64(1), status.ConsecutiveErrors)
	assert.Equal(t, int64(1), status.ErrorCount)
	assert.Equal(t, "error", status.ApiStatus)
}

func TestPoller_StopWithoutStart(t *testing.T) {
	ledger := newTestStore(t)
	poller := newTestPoller(t, ledger, &fakeSource{}, nil, listenerConfig())

	stopped := make(chan struct{})
	go func() {
		poller.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a poller that never started")
	}
}

func TestRunCycle_HaltsOnDeepBacklog(t *testing.T) {
	ledger := newTestStore(t)

	backlog := fmt.Errorf("getTransactions: %w: more than 10 pages", toncenter.ErrBacklogTooDeep)
	source := &fakeSource{errs: []error{backlog}, hangOn: true}
	cfg := listenerConfig()
	cfg.MaxRetries = 3
	cfg.MaxConsecutiveErrors = 10
	poller := newTestPoller(t, ledger, source, nil, cfg)

	state, err := poller.RunCycle(context.Background(), PollState{})
	require.Error(t, err)
	assert.True(t, state.Halted)
	assert.ErrorIs(t, err, ErrPollerHalted)
	assert.ErrorIs(t, err, toncenter.ErrBacklogTooDeep)
	assert.Contains(t, err.Error(), "LISTENER_START_LT")
	assert.Equal(t, 1, source.callCount())
	assert.Equal(t, BreakerClosed, poller.BreakerState())

	status, _ := ledger.GetSystemStatus(context.Background())
	assert.Equal(t, StatusHalted, status.MonitorStatus)
}

func TestPoller_StartLtSeedsEmptyCheckpoint(t *testing.T) {
	ledger := newTestStore(t)
	user := registerUser(t, ledger, userWallet)

	source := &fakeSource{txs: []models.ChainTransaction{
		deposit(50, userWallet, depositAddress, 999), // before the configured start
		deposit(150, userWallet, depositAddress, 100),
	}}
	cfg := listenerConfig()
	cfg.StartLt = 100
	poller := newTestPoller(t, ledger, source, nil, cfg)

	require.NoError(t, poller.Start(context.Background()))
	assert.Eventually(t, func() bool { return poller.State().LastLt == 150 }, 2*time.Second, 5*time.Millisecond)
	poller.Stop()

	source.mu.Lock()
	assert.Equal(t, uint64(100), source.since[0])
	source.mu.Unlock()

	balance, _ := ledger.GetBalance(context.Background(), user.Id)
	assert.Equal(t, int64(100), balance.CurrentBalance)
}

func TestPoller_StartLtIgnoredWithStoredCheckpoint(t *testing.T) {
	ledger := newTestStore(t)
	require.NoError(t, ledger.AdvanceCheckpoint(context.Background(), 5))

	source := &fakeSource{}
	cfg := listenerConfig()
	cfg.StartLt = 100
	poller := newTestPoller(t, ledger, source, nil, cfg)

	require.NoError(t, poller.Start(context.Background()))
	assert.Eventually(t, func() bool { return source.callCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	poller.Stop()

	source.mu.Lock()
	assert.Equal(t, uint64(5), source.since[0])
	source.mu.Unlock()

	lt, _ := ledger.GetCheckpoint(context.Background())
	assert.Equal(t, uint64(5), lt)
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	ledger := newTestStore(t)
	poller := newTestPoller(t, ledger, &fakeSource{}, nil, listenerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, poller.Start(ctx))
	cancel()

	select {
	case <-poller.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
	assert.NoError(t, poller.Err())
}
