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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		return nil, store.NewStorageError("get users", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, store.NewStorageError("scan user", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, store.NewStorageError("iterate users", err)
	}

	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	return s.getUser(ctx, s.db, queryGetUserById, userId)
}

func (s *Service) GetUserByExternalId(ctx context.Context, externalId string) (*models.User, error) {
	return s.getUser(ctx, s.db, queryGetUserByExternalId, externalId)
}

func (s *Service) getUser(ctx context.Context, q queryer, query, key string) (*models.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, key)
	}
	if err != nil {
		return nil, store.NewStorageError("get user", err)
	}

	user.Variants, err = s.getVariants(ctx, q, user.Id)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) getVariants(ctx context.Context, q queryer, userId string) ([]string, error) {
	rows, err := q.QueryContext(ctx, queryGetUserVariants, userId)
	if err != nil {
		return nil, store.NewStorageError("get variants", err)
	}
	defer closeRows(rows)

	var variants []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, store.NewStorageError("scan variant", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("iterate variants", err)
	}
	return variants, nil
}

// FindUserByAnyAddress returns the user owning any of the given address
// strings, or nil if none matches.
func (s *Service) FindUserByAnyAddress(ctx context.Context, addresses ...string) (*models.User, error) {
	return s.findUserByAnyAddress(ctx, s.db, addresses)
}

func (s *Service) findUserByAnyAddress(ctx context.Context, q queryer, addresses []string) (*models.User, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	args := make([]any, len(addresses))
	for i, a := range addresses {
		args[i] = a
	}
	query := queryFindUserIdByVariantsPrefix + strings.TrimSuffix(strings.Repeat("?,", len(addresses)), ",") + ")"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStorageError("find user by address", err)
	}

	var userIds []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			closeRows(rows)
			return nil, store.NewStorageError("scan user id", err)
		}
		userIds = append(userIds, id)
	}
	iterErr := rows.Err()
	closeRows(rows)
	if iterErr != nil {
		return nil, store.NewStorageError("iterate user ids", iterErr)
	}

	switch len(userIds) {
	case 0:
		return nil, nil
	case 1:
		return s.getUser(ctx, q, queryGetUserById, userIds[0])
	default:
		zap.L().Error("Address variants resolve to more than one user",
			zap.Strings("addresses", addresses),
			zap.Strings("user_ids", userIds))
		return nil, fmt.Errorf("address variants resolve to %d users", len(userIds))
	}
}

// CreateUser registers a wallet owner with all address variants. If any
// variant already belongs to a user, that user is returned with created=false.
func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, bool, error) {
	if params.CanonicalAddress == "" || len(params.Variants) == 0 {
		return nil, false, fmt.Errorf("canonical address and variants are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, store.NewStorageError("begin create user", err)
	}
	defer rollback(tx)

	existing, err := s.findUserByAnyAddress(ctx, tx, append([]string{params.CanonicalAddress}, params.Variants...))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		zap.L().Info("Wallet already registered, returning existing user",
			zap.String("user_id", existing.Id),
			zap.String("external_id", existing.ExternalId))
		return existing, false, nil
	}

	now := s.now()
	userId := uuid.New().String()
	if _, err := tx.ExecContext(ctx, queryInsertUser, userId, params.ExternalId, params.WalletAddress, params.CanonicalAddress, now, now); err != nil {
		return nil, false, store.NewStorageError("insert user", err)
	}

	for _, variant := range params.Variants {
		if _, err := tx.ExecContext(ctx, queryInsertAddressVariant, userId, variant, variantType(variant), now); err != nil {
			return nil, false, store.NewStorageError("insert address variant", err)
		}
	}

	if err := s.subledger.ensureBalance(ctx, tx, userId, now); err != nil {
		return nil, false, store.NewStorageError("create balance", err)
	}

	if err := insertAudit(ctx, tx, models.AuditEvent{
		EventType:  "user_created",
		UserId:     userId,
		EntityType: "user",
		EntityId:   userId,
		NewValues:  jsonValues(map[string]any{"external_id": params.ExternalId, "wallet_address": params.WalletAddress}),
		CreatedAt:  now,
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, store.NewStorageError("commit create user", err)
	}

	zap.L().Info("User created",
		zap.String("user_id", userId),
		zap.String("external_id", params.ExternalId),
		zap.String("canonical_address", params.CanonicalAddress),
		zap.Int("variants", len(params.Variants)))

	variants := append([]string(nil), params.Variants...)
	return &models.User{
		Id:               userId,
		ExternalId:       params.ExternalId,
		WalletAddress:    params.WalletAddress,
		CanonicalAddress: params.CanonicalAddress,
		Variants:         variants,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, true, nil
}

func variantType(variant string) string {
	acc, err := addressbook.Parse(variant)
	if err != nil {
		return "literal"
	}
	if strings.Contains(variant, ":") {
		return "raw"
	}

	kind := "non_bounceable"
	if acc.Bounceable {
		kind = "bounceable"
	}
	if acc.Testnet {
		kind += "_testnet"
	}
	if strings.ContainsAny(variant, "-_") {
		kind += "_url"
	}
	return kind
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.Id, &u.ExternalId, &u.WalletAddress, &u.CanonicalAddress, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
