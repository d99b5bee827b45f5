package api

import (
	"context"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

// CreateUserResponse describes the registered user. Created is false when
// the wallet was already registered.
type CreateUserResponse struct {
	UserId   string   `json:"user_id"`
	Variants []string `json:"variants"`
	Created  bool     `json:"created"`
}

// CreateUser registers a wallet in every address encoding. Registering the
// same wallet again, in any encoding, returns the existing user.
func (s *LedgerService) CreateUser(ctx context.Context, walletAddress, externalId string) (*CreateUserResponse, error) {
	if walletAddress == "" {
		return nil, invalidArgument("wallet_address is required")
	}

	variants, err := addressbook.Variants(walletAddress)
	if err != nil {
		return nil, toError("register wallet", err)
	}
	canonical, err := addressbook.Canonical(walletAddress)
	if err != nil {
		return nil, toError("register wallet", err)
	}

	user, created, err := s.store.CreateUser(ctx, store.CreateUserParams{
		ExternalId:       externalId,
		WalletAddress:    walletAddress,
		CanonicalAddress: canonical,
		Variants:         variants,
	})
	if err != nil {
		zap.L().Error("Failed to create user",
			zap.String("wallet_address", walletAddress),
			zap.String("external_id", externalId),
			zap.Error(err))
		return nil, toError("create user", err)
	}

	if created {
		zap.L().Info("User registered",
			zap.String("user_id", user.Id),
			zap.String("canonical_address", canonical),
			zap.Int("variants", len(variants)))
	}

	return &CreateUserResponse{
		UserId:   user.Id,
		Variants: variants,
		Created:  created,
	}, nil
}
