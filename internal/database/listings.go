package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) CreateListing(ctx context.Context, params store.CreateListingParams) (*models.Listing, error) {
	if params.ListingId == "" || params.SellerId == "" {
		return nil, fmt.Errorf("listing id and seller id are required")
	}
	if params.PriceNano <= 0 {
		return nil, fmt.Errorf("listing price must be positive, got %d", params.PriceNano)
	}

	if _, err := s.GetUserById(ctx, params.SellerId); err != nil {
		return nil, err
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx, queryInsertListing,
		params.ListingId, params.SellerId, params.ChannelId, params.Title, params.PriceNano, now)
	if err != nil {
		return nil, store.NewStorageError("insert listing", err)
	}

	zap.L().Info("Listing created",
		zap.String("listing_id", params.ListingId),
		zap.String("seller_id", params.SellerId),
		zap.String("price", models.NanoToTon(params.PriceNano).String()))

	return &models.Listing{
		Id:        params.ListingId,
		SellerId:  params.SellerId,
		ChannelId: params.ChannelId,
		Title:     params.Title,
		PriceNano: params.PriceNano,
		Status:    models.ListingActive,
		CreatedAt: now,
	}, nil
}

func (s *Service) GetListing(ctx context.Context, listingId string) (*models.Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx, queryGetListing, listingId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrListingNotFound, listingId)
	}
	if err != nil {
		return nil, store.NewStorageError("get listing", err)
	}
	return listing, nil
}

// ListListings returns listings, optionally filtered by status
func (s *Service) ListListings(ctx context.Context, status string) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, queryListListings, status, status)
	if err != nil {
		return nil, store.NewStorageError("list listings", err)
	}
	defer closeRows(rows)

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, store.NewStorageError("scan listing", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("iterate listings", err)
	}
	return listings, nil
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var soldAt sql.NullTime
	if err := row.Scan(&l.Id, &l.SellerId, &l.ChannelId, &l.Title, &l.PriceNano, &l.Status, &l.CreatedAt, &soldAt); err != nil {
		return nil, err
	}
	l.SoldAt = timePtr(soldAt)
	return &l, nil
}
