package api

import (
	"context"
	"time"

	"ton-escrow-ledger-go/internal/escrow"
	"ton-escrow-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// EscrowResponse is the externally visible state of an escrow
type EscrowResponse struct {
	TransactionId   string              `json:"transaction_id"`
	ListingId       string              `json:"listing_id"`
	BuyerId         string              `json:"buyer_id"`
	SellerId        string              `json:"seller_id"`
	Amount          decimal.Decimal     `json:"amount"`
	EscrowAddress   string              `json:"escrow_address"`
	PaymentHash     string              `json:"payment_hash,omitempty"`
	Status          models.EscrowStatus `json:"status"`
	BuyerConfirmed  bool                `json:"buyer_confirmed"`
	SellerConfirmed bool                `json:"seller_confirmed"`
	TimeoutAt       time.Time           `json:"timeout_at"`
}

func (s *LedgerService) CreateEscrow(ctx context.Context, listingId, buyerId, buyerWallet string) (*EscrowResponse, error) {
	if listingId == "" || buyerId == "" {
		return nil, invalidArgument("listing_id and buyer_id are required")
	}
	e, err := s.escrow.Create(ctx, listingId, buyerId, buyerWallet)
	if err != nil {
		return nil, toError("create escrow", err)
	}
	return toEscrowResponse(e), nil
}

func (s *LedgerService) GetEscrow(ctx context.Context, transactionId string) (*EscrowResponse, error) {
	e, err := s.escrow.Get(ctx, transactionId)
	if err != nil {
		return nil, toError("get escrow", err)
	}
	return toEscrowResponse(e), nil
}

func (s *LedgerService) ConfirmPayment(ctx context.Context, transactionId, paymentHash string) (*EscrowResponse, error) {
	e, err := s.escrow.ConfirmPayment(ctx, transactionId, paymentHash)
	if err != nil {
		return nil, toError("confirm payment", err)
	}
	return toEscrowResponse(e), nil
}

// ConfirmTransfer records one party's confirmation. role is "buyer" or "seller".
func (s *LedgerService) ConfirmTransfer(ctx context.Context, transactionId, confirmerId, role string) (*EscrowResponse, error) {
	e, err := s.escrow.ConfirmTransfer(ctx, transactionId, confirmerId, escrow.Role(role))
	if err != nil {
		return nil, toError("confirm transfer", err)
	}
	return toEscrowResponse(e), nil
}

func (s *LedgerService) TimeoutReap(ctx context.Context, transactionId string) (*EscrowResponse, error) {
	e, err := s.escrow.TimeoutReap(ctx, transactionId)
	if err != nil {
		return nil, toError("refund escrow", err)
	}
	return toEscrowResponse(e), nil
}

func toEscrowResponse(e *models.Escrow) *EscrowResponse {
	return &EscrowResponse{
		TransactionId:   e.TransactionId,
		ListingId:       e.ListingId,
		BuyerId:         e.BuyerId,
		SellerId:        e.SellerId,
		Amount:          e.Amount(),
		EscrowAddress:   e.EscrowAddress,
		PaymentHash:     e.PaymentHash,
		Status:          e.Status,
		BuyerConfirmed:  e.BuyerConfirmed,
		SellerConfirmed: e.SellerConfirmed,
		TimeoutAt:       e.TimeoutAt,
	}
}
