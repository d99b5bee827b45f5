package common

import (
	"context"
	"fmt"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitializeUsers retrieves users based on an optional filter. The filter
// may be a user id, an external id or a wallet address in any encoding.
// If the filter is empty, returns all users.
func InitializeUsers(ctx context.Context, ledger store.LedgerStore, filter string, logger *zap.Logger) ([]models.User, error) {
	if filter == "" {
		users, err := ledger.GetUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}
		logger.Info("Retrieved users", zap.Int("count", len(users)))
		return users, nil
	}

	logger.Info("Looking up user", zap.String("filter", filter))
	user, err := findUser(ctx, ledger, filter)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	return []models.User{*user}, nil
}

func findUser(ctx context.Context, ledger store.LedgerStore, filter string) (*models.User, error) {
	if _, err := addressbook.Parse(filter); err == nil {
		keys, _ := addressbook.LookupKeys(filter)
		user, err := ledger.FindUserByAnyAddress(ctx, keys...)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, filter)
		}
		return user, nil
	}

	if user, err := ledger.GetUserById(ctx, filter); err == nil {
		return user, nil
	}
	return ledger.GetUserByExternalId(ctx, filter)
}
