package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// ListingSeed is one listing in listings.yaml. The seller is named by wallet
// address in any encoding.
type ListingSeed struct {
	ListingId    string `yaml:"listing_id"`
	SellerWallet string `yaml:"seller_wallet"`
	ChannelId    string `yaml:"channel_id"`
	Title        string `yaml:"title"`
	Price        string `yaml:"price"`
}

type ListingsConfig struct {
	Listings []ListingSeed `yaml:"listings"`
}

func LoadListings(listingsFile string) ([]ListingSeed, error) {
	var listingsPath string
	if filepath.IsAbs(listingsFile) {
		listingsPath = listingsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		listingsPath = filepath.Join(wd, listingsFile)
	}

	data, err := os.ReadFile(listingsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", listingsFile, err)
	}

	var config ListingsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", listingsFile, err)
	}

	for i, listing := range config.Listings {
		if listing.ListingId == "" {
			return nil, fmt.Errorf("listing at index %d missing listing_id", i)
		}
		if listing.SellerWallet == "" {
			return nil, fmt.Errorf("listing %s missing seller_wallet", listing.ListingId)
		}
		if _, err := models.ParseTon(listing.Price); err != nil {
			return nil, fmt.Errorf("listing %s: %w", listing.ListingId, err)
		}
	}

	return config.Listings, nil
}

// SeedResult counts what SeedListings did
type SeedResult struct {
	Created  int
	Existing int
	Failed   []string
}

// SeedListings creates every listing that does not exist yet. Sellers must
// already be registered.
func SeedListings(ctx context.Context, ledger store.LedgerStore, seeds []ListingSeed) SeedResult {
	var result SeedResult

	for _, seed := range seeds {
		if _, err := ledger.GetListing(ctx, seed.ListingId); err == nil {
			result.Existing++
			continue
		} else if !errors.Is(err, store.ErrListingNotFound) {
			zap.L().Error("Failed to check listing", zap.String("listing_id", seed.ListingId), zap.Error(err))
			result.Failed = append(result.Failed, seed.ListingId)
			continue
		}

		if err := seedListing(ctx, ledger, seed); err != nil {
			zap.L().Error("Failed to seed listing", zap.String("listing_id", seed.ListingId), zap.Error(err))
			result.Failed = append(result.Failed, seed.ListingId)
			continue
		}
		result.Created++
	}

	return result
}

func seedListing(ctx context.Context, ledger store.LedgerStore, seed ListingSeed) error {
	keys, err := addressbook.LookupKeys(seed.SellerWallet)
	if err != nil {
		return fmt.Errorf("invalid seller wallet: %w", err)
	}
	seller, err := ledger.FindUserByAnyAddress(ctx, keys...)
	if err != nil {
		return err
	}
	if seller == nil {
		return fmt.Errorf("%w: no user registered for %s", store.ErrUserNotFound, seed.SellerWallet)
	}

	price, err := models.ParseTon(seed.Price)
	if err != nil {
		return err
	}

	_, err = ledger.CreateListing(ctx, store.CreateListingParams{
		ListingId: seed.ListingId,
		SellerId:  seller.Id,
		ChannelId: seed.ChannelId,
		Title:     seed.Title,
		PriceNano: price,
	})
	return err
}
