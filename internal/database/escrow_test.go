package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"
)

var errAlreadyTerminal = errors.New("escrow already terminal")

type escrowFixture struct {
	service *Service
	buyer   *models.User
	seller  *models.User
	listing *models.Listing
}

func setupEscrowFixture(t *testing.T) (*escrowFixture, func()) {
	t.Helper()
	service, cleanup := setupTestDb(t)

	buyer := createTestUser(t, service, aliceWallet, "1001")
	seller := createTestUser(t, service, bobWallet, "1002")

	listing, err := service.CreateListing(context.Background(), store.CreateListingParams{
		ListingId: "listing-1",
		SellerId:  seller.Id,
		ChannelId: "@channel",
		Title:     "Channel",
		PriceNano: 10_000_000_000,
	})
	if err != nil {
		cleanup()
		t.Fatalf("CreateListing failed: %v", err)
	}

	return &escrowFixture{service: service, buyer: buyer, seller: seller, listing: listing}, cleanup
}

func (f *escrowFixture) newEscrow(t *testing.T, id string, timeout time.Time) *models.Escrow {
	t.Helper()
	escrow, err := f.service.CreateEscrow(context.Background(), models.Escrow{
		TransactionId: id,
		ListingId:     f.listing.Id,
		BuyerId:       f.buyer.Id,
		SellerId:      f.seller.Id,
		AmountNano:    f.listing.PriceNano,
		BuyerWallet:   aliceWallet,
		EscrowAddress: "ESCROW_" + id,
		Status:        models.EscrowPendingPayment,
		TimeoutAt:     timeout,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateEscrow failed: %v", err)
	}
	return escrow
}

func confirmPayment(hash string) store.EscrowMutator {
	return func(current models.Escrow) (*store.EscrowMutation, error) {
		now := time.Now().UTC()
		current.Status = models.EscrowPaymentConfirmed
		current.PaymentHash = hash
		current.PaymentConfirmedAt = &now
		return &store.EscrowMutation{Escrow: current, AuditEvent: "payment_confirmed"}, nil
	}
}

func complete(current models.Escrow) (*store.EscrowMutation, error) {
	if current.Status.IsTerminal() {
		return nil, errAlreadyTerminal
	}
	now := time.Now().UTC()
	current.Status = models.EscrowCompleted
	current.BuyerConfirmed = true
	current.SellerConfirmed = true
	current.CompletedAt = &now
	return &store.EscrowMutation{
		Escrow:          current,
		MarkListingSold: true,
		Credit: &store.BalanceCredit{
			UserId:     current.SellerId,
			AmountNano: current.AmountNano,
			EntryType:  models.EntryEscrowRelease,
		},
		AuditEvent: "escrow_completed",
	}, nil
}

func TestMutateEscrow_CompletionReleasesFunds(t *testing.T) {
	f, cleanup := setupEscrowFixture(t)
	defer cleanup()
	ctx := context.Background()

	created := f.newEscrow(t, "esc-1", time.Now().Add(time.Hour))
	if created.Version != 1 {
		t.Errorf("Expected version 1, got %d", created.Version)
	}

	paid, err := f.service.MutateEscrow(ctx, "esc-1", confirmPayment("0xabc"))
	if err != nil {
		t.Fatalf("Confirm payment failed: %v", err)
	}
	if paid.Status != models.EscrowPaymentConfirmed || paid.Version != 2 {
		t.Errorf("Unexpected escrow after payment: %+v", paid)
	}

	done, err := f.service.MutateEscrow(ctx, "esc-1", complete)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != models.EscrowCompleted || done.Version != 3 {
		t.Errorf("Unexpected escrow after completion: %+v", done)
	}

	stored, err := f.service.GetEscrow(ctx, "esc-1")
	if err != nil {
		t.Fatalf("GetEscrow failed: %v", err)
	}
	if stored.PaymentHash != "0xabc" || !stored.BuyerConfirmed || !stored.SellerConfirmed || stored.CompletedAt == nil {
		t.Errorf("Stored escrow does not reflect completion: %+v", stored)
	}

	listing, _ := f.service.GetListing(ctx, f.listing.Id)
	if listing.Status != models.ListingSold || listing.SoldAt == nil {
		t.Errorf("Expected listing to be sold, got %+v", listing)
	}

	balance, _ := f.service.GetBalance(ctx, f.seller.Id)
	if balance.CurrentBalance != 10_000_000_000 {
		t.Errorf("Expected seller credited 10 TON, got %d", balance.CurrentBalance)
	}
	if balance.DepositCount != 0 {
		t.Errorf("Escrow release must not count as a chain deposit, got %d", balance.DepositCount)
	}
	if err := f.service.ReconcileUserBalance(ctx, f.seller.Id); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}

	events, _ := f.service.GetAuditLog(ctx, "esc-1")
	if len(events) != 3 {
		t.Errorf("Expected 3 audit events, got %d", len(events))
	}

	_, err = f.service.CreateEscrow(ctx, models.Escrow{
		TransactionId: "esc-late",
		ListingId:     f.listing.Id,
		BuyerId:       f.buyer.Id,
		SellerId:      f.seller.Id,
		AmountNano:    1,
		EscrowAddress: "ESCROW_late",
		Status:        models.EscrowPendingPayment,
		TimeoutAt:     time.Now().Add(time.Hour),
		CreatedAt:     time.Now(),
	})
	if !errors.Is(err, store.ErrListingNotActive) {
		t.Errorf("Expected ErrListingNotActive for sold listing, got %v", err)
	}
}

func TestMutateEscrow_SecondSaleRollsBack(t *testing.T) {
	f, cleanup := setupEscrowFixture(t)
	defer cleanup()
	ctx := context.Background()

	f.newEscrow(t, "esc-a", time.Now().Add(time.Hour))
	f.newEscrow(t, "esc-b", time.Now().Add(time.Hour))

	if _, err := f.service.MutateEscrow(ctx, "esc-a", complete); err != nil {
		t.Fatalf("First completion failed: %v", err)
	}

	_, err := f.service.MutateEscrow(ctx, "esc-b", complete)
	if !errors.Is(err, store.ErrListingNotActive) {
		t.Fatalf("Expected ErrListingNotActive, got %v", err)
	}

	stored, _ := f.service.GetEscrow(ctx, "esc-b")
	if stored.Status != models.EscrowPendingPayment || stored.Version != 1 {
		t.Errorf("Expected esc-b untouched, got %+v", stored)
	}

	balance, _ := f.service.GetBalance(ctx, f.seller.Id)
	if balance.CurrentBalance != 10_000_000_000 {
		t.Errorf("Expected a single release, got %d", balance.CurrentBalance)
	}
}

func TestMutateEscrow_MutatorError(t *testing.T) {
	f, cleanup := setupEscrowFixture(t)
	defer cleanup()
	ctx := context.Background()

	f.newEscrow(t, "esc-1", time.Now().Add(time.Hour))
	boom := errors.New("boom")

	_, err := f.service.MutateEscrow(ctx, "esc-1", func(models.Escrow) (*store.EscrowMutation, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected mutator error, got %v", err)
	}

	unchanged, err := f.service.MutateEscrow(ctx, "esc-1", func(models.Escrow) (*store.EscrowMutation, error) {
		return nil, nil
	})
	if err != nil || unchanged.Version != 1 {
		t.Errorf("Expected no-op mutation to return current row, got %+v, %v", unchanged, err)
	}

	_, err = f.service.MutateEscrow(ctx, "missing", complete)
	if !errors.Is(err, store.ErrEscrowNotFound) {
		t.Errorf("Expected ErrEscrowNotFound, got %v", err)
	}
}

func TestMutateEscrow_ConcurrentCompletionReleasesOnce(t *testing.T) {
	f, cleanup := setupEscrowFixture(t)
	defer cleanup()
	ctx := context.Background()

	f.newEscrow(t, "esc-1", time.Now().Add(time.Hour))

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.MutateEscrow(ctx, "esc-1", complete)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, errAlreadyTerminal) && !errors.Is(err, store.ErrConcurrentModification) {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("Expected exactly one completion, got %d", succeeded)
	}

	balance, _ := f.service.GetBalance(ctx, f.seller.Id)
	if balance.CurrentBalance != 10_000_000_000 {
		t.Errorf("Expected one release of 10 TON, got %d", balance.CurrentBalance)
	}
}

func TestListExpiredEscrows(t *testing.T) {
	f, cleanup := setupEscrowFixture(t)
	defer cleanup()
	ctx := context.Background()

	f.newEscrow(t, "esc-expired", time.Now().Add(-time.Hour))
	f.newEscrow(t, "esc-live", time.Now().Add(time.Hour))
	f.newEscrow(t, "esc-done", time.Now().Add(-2*time.Hour))

	if _, err := f.service.MutateEscrow(ctx, "esc-done", func(current models.Escrow) (*store.EscrowMutation, error) {
		now := time.Now().UTC()
		current.Status = models.EscrowRefunded
		current.RefundedAt = &now
		return &store.EscrowMutation{Escrow: current}, nil
	}); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	expired, err := f.service.ListExpiredEscrows(ctx, time.Now(), store.EscrowCursor{}, 10)
	if err != nil {
		t.Fatalf("ListExpiredEscrows failed: %v", err)
	}
	if len(expired) != 1 || expired[0].TransactionId != "esc-expired" {
		t.Errorf("Expected only esc-expired, got %+v", expired)
	}
}

func TestListExpiredEscrows_Paging(t *testing.T) {
	f, cleanup := setupEscrowFixture(t)
	defer cleanup()
	ctx := context.Background()

	deadline := time.Now().Add(-time.Hour)
	f.newEscrow(t, "esc-b", deadline)
	f.newEscrow(t, "esc-a", deadline)
	f.newEscrow(t, "esc-c", deadline.Add(-time.Hour))

	var seen []string
	cursor := store.EscrowCursor{}
	for page := 0; page < 5; page++ {
		expired, err := f.service.ListExpiredEscrows(ctx, time.Now(), cursor, 1)
		if err != nil {
			t.Fatalf("ListExpiredEscrows failed: %v", err)
		}
		if len(expired) == 0 {
			break
		}
		last := expired[len(expired)-1]
		seen = append(seen, last.TransactionId)
		cursor = store.EscrowCursor{TimeoutAt: last.TimeoutAt, TransactionId: last.TransactionId}
	}

	want := []string{"esc-c", "esc-a", "esc-b"}
	if len(seen) != len(want) {
		t.Fatalf("Expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, seen)
			break
		}
	}
}

func TestCreateListing_Validation(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	_, err := service.CreateListing(ctx, store.CreateListingParams{ListingId: "l", SellerId: "missing", PriceNano: 1})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	seller := createTestUser(t, service, bobWallet, "1002")
	if _, err := service.CreateListing(ctx, store.CreateListingParams{ListingId: "l", SellerId: seller.Id}); err == nil {
		t.Errorf("Expected error for zero price")
	}

	if _, err := service.GetListing(ctx, "missing"); !errors.Is(err, store.ErrListingNotFound) {
		t.Errorf("Expected ErrListingNotFound, got %v", err)
	}

	if _, err := service.CreateListing(ctx, store.CreateListingParams{ListingId: "l1", SellerId: seller.Id, PriceNano: 5}); err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	active, err := service.ListListings(ctx, models.ListingActive)
	if err != nil || len(active) != 1 {
		t.Errorf("Expected one active listing, got %d, %v", len(active), err)
	}
	sold, _ := service.ListListings(ctx, models.ListingSold)
	if len(sold) != 0 {
		t.Errorf("Expected no sold listings, got %d", len(sold))
	}
}
