package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ton-escrow-ledger-go/internal/api"
	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"
	"ton-escrow-ledger-go/internal/escrow"
	"ton-escrow-ledger-go/internal/events"

	"go.uber.org/zap"
)

const usage = `usage: escrow <command> [flags]

commands:
  create            -listing ID -buyer USER_ID -wallet ADDRESS
  confirm-payment   -id ESCROW_ID -hash PAYMENT_HASH
  confirm-transfer  -id ESCROW_ID -user USER_ID -role buyer|seller
  reap              [-id ESCROW_ID]  (all expired escrows when -id is omitted)
  show              -id ESCROW_ID
`

type cli struct {
	ledger *api.LedgerService
	engine *escrow.Engine
}

func printEscrow(title string, e *api.EscrowResponse) {
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("Id:               %s\n", e.TransactionId)
	fmt.Printf("Listing:          %s\n", e.ListingId)
	fmt.Printf("Buyer:            %s\n", e.BuyerId)
	fmt.Printf("Seller:           %s\n", e.SellerId)
	fmt.Printf("Amount:           %s TON\n", e.Amount.String())
	fmt.Printf("Escrow Address:   %s\n", e.EscrowAddress)
	fmt.Printf("Status:           %s\n", e.Status)
	if e.PaymentHash != "" {
		fmt.Printf("Payment Hash:     %s\n", e.PaymentHash)
	}
	fmt.Printf("Confirmations:    buyer=%t seller=%t\n", e.BuyerConfirmed, e.SellerConfirmed)
	fmt.Printf("Timeout At:       %s\n", e.TimeoutAt.Format("2006-01-02 15:04:05 MST"))
	common.PrintSeparator("=", common.DefaultWidth)
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	id := fs.String("id", "", "Escrow transaction id")
	listing := fs.String("listing", "", "Listing id")
	buyer := fs.String("buyer", "", "Buyer user id")
	wallet := fs.String("wallet", "", "Buyer wallet address")
	hash := fs.String("hash", "", "Payment transaction hash")
	user := fs.String("user", "", "Confirming user id")
	role := fs.String("role", "", "Confirming role: buyer or seller")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		result *api.EscrowResponse
		err    error
		title  string
	)

	switch command {
	case "create":
		result, err = c.ledger.CreateEscrow(ctx, *listing, *buyer, *wallet)
		title = "ESCROW CREATED"
	case "confirm-payment":
		result, err = c.ledger.ConfirmPayment(ctx, *id, *hash)
		title = "PAYMENT CONFIRMED"
	case "confirm-transfer":
		result, err = c.ledger.ConfirmTransfer(ctx, *id, *user, *role)
		title = "TRANSFER CONFIRMED"
	case "reap":
		if *id == "" {
			count, reapErr := c.engine.ReapExpired(ctx)
			common.PrintFooter(fmt.Sprintf("Refunded %d expired escrows", count), common.DefaultWidth)
			return reapErr
		}
		result, err = c.ledger.TimeoutReap(ctx, *id)
		title = "ESCROW REFUNDED"
	case "show":
		result, err = c.ledger.GetEscrow(ctx, *id)
		title = "ESCROW"
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		return err
	}

	printEscrow(title, result)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	emitter := events.NewEmitter(cfg.Events)
	defer emitter.Close()

	engine := escrow.NewEngine(dbService, emitter, cfg.Escrow)
	c := &cli{
		engine: engine,
		ledger: api.NewLedgerService(api.ServiceConfig{Store: dbService, Escrow: engine, Emitter: emitter}),
	}

	if err := c.run(ctx, command, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "escrow %s failed: %v\n", command, err)
		zap.L().Fatal("Escrow command failed",
			zap.String("command", command),
			zap.Error(err))
	}
}
