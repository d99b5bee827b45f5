package database

import (
	"context"
	"errors"
	"testing"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/store"
)

func TestCreateUser_StoresVariantsAndBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, service, aliceWallet, "1001")

	if user.CanonicalAddress != "0:eb6398ae956b3f3325933fd25219e75607395b7919a1081a2ab1268d8922ceb3" {
		t.Errorf("Unexpected canonical address %s", user.CanonicalAddress)
	}
	if len(user.Variants) != 9 {
		t.Errorf("Expected 9 variants, got %d", len(user.Variants))
	}

	stored, err := service.GetUserById(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if len(stored.Variants) != len(user.Variants) {
		t.Errorf("Expected %d stored variants, got %d", len(user.Variants), len(stored.Variants))
	}

	balance, err := service.GetBalance(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.CurrentBalance != 0 || balance.DepositCount != 0 {
		t.Errorf("Expected empty balance, got %+v", balance)
	}

	events, err := service.GetAuditLog(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "user_created" {
		t.Errorf("Expected one user_created audit event, got %+v", events)
	}
}

func TestCreateUser_IdempotentAcrossEncodings(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	first := createTestUser(t, service, aliceWallet, "1001")

	// Same account, bounceable standard-alphabet form
	variants, _ := addressbook.Variants("EQDrY5iulWs/MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOsyC8")
	canonical, _ := addressbook.Canonical("EQDrY5iulWs/MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOsyC8")
	second, created, err := service.CreateUser(ctx, store.CreateUserParams{
		ExternalId:       "1001",
		WalletAddress:    "EQDrY5iulWs/MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOsyC8",
		CanonicalAddress: canonical,
		Variants:         variants,
	})
	if err != nil {
		t.Fatalf("Second CreateUser failed: %v", err)
	}
	if created {
		t.Errorf("Expected existing user to be returned")
	}
	if second.Id != first.Id {
		t.Errorf("Expected user %s, got %s", first.Id, second.Id)
	}

	users, err := service.GetUsers(ctx)
	if err != nil {
		t.Fatalf("GetUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("Expected 1 user, got %d", len(users))
	}
}

func TestFindUserByAnyAddress(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	alice := createTestUser(t, service, aliceWallet, "1001")
	createTestUser(t, service, bobWallet, "1002")

	found, err := service.FindUserByAnyAddress(ctx, "0QDrY5iulWs/MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOs8bz")
	if err != nil {
		t.Fatalf("FindUserByAnyAddress failed: %v", err)
	}
	if found == nil || found.Id != alice.Id {
		t.Fatalf("Expected alice, got %+v", found)
	}

	missing, err := service.FindUserByAnyAddress(ctx, carolWallet)
	if err != nil {
		t.Fatalf("FindUserByAnyAddress failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected no user, got %+v", missing)
	}

	none, err := service.FindUserByAnyAddress(ctx)
	if err != nil || none != nil {
		t.Errorf("Expected nil for empty lookup, got %+v, %v", none, err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.GetUserById(context.Background(), "missing")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	_, err = service.GetUserByExternalId(context.Background(), "missing")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestVariantType(t *testing.T) {
	tests := map[string]string{
		"0:eb6398ae956b3f3325933fd25219e75607395b7919a1081a2ab1268d8922ceb3": "raw",
		"UQDrY5iulWs_MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOs315":                   "non_bounceable_url",
		"EQDrY5iulWs/MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOsyC8":                   "bounceable",
		"kQDrY5iulWs_MyWTP9JSGedWBzlbeRmhCBoqsSaNiSLOs5s2":                   "bounceable_testnet_url",
		"not-an-address": "literal",
	}
	for input, want := range tests {
		if got := variantType(input); got != want {
			t.Errorf("variantType(%s) = %s, want %s", input, got, want)
		}
	}
}
