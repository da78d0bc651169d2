package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lucky-wheel/internal/config"
	"lucky-wheel/internal/database"
	"lucky-wheel/internal/models"
	"lucky-wheel/internal/pending"
	"lucky-wheel/internal/quota"
	"lucky-wheel/internal/services/payment"
)

func main() {
	wallet := flag.String("wallet", "", "also print this wallet's pending spin")
	proof := flag.Bool("proof", false, "mint a payment proof for -wallet (dev secrets only)")
	variant := flag.String("variant", string(models.VariantPremium), "variant for -proof")
	amount := flag.String("amount", "", "amount for -proof; defaults to the variant price")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	ctx := context.Background()
	store, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fail(err)
	}
	defer store.Close()

	var (
		counter        quota.Counter   = store
		pendingBackend pending.Backend = store
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fail(err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		counter = quota.NewRedisCounter(client, "")
		pendingBackend = pending.NewRedisBackend(client, "")
	}

	ledger := quota.NewDailyLedger(counter, store, cfg.GlobalDailyLimit, cfg.Timezone)
	snap, err := ledger.Peek(ctx)
	if err != nil {
		fail(err)
	}
	out := map[string]any{"quota": snap}

	if *wallet != "" {
		tracker := pending.NewTracker(pendingBackend, cfg.PendingLeaseTTL)
		rec, err := tracker.Get(ctx, *wallet)
		if err != nil {
			fail(err)
		}
		out["pending"] = rec
		out["leaseExpired"] = tracker.LeaseExpired(rec)

		if *proof {
			token, err := mintProof(ctx, store, cfg, rec.Wallet, models.VariantID(*variant), *amount)
			if err != nil {
				fail(err)
			}
			out["proof"] = token
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fail(err)
	}
}

func mintProof(ctx context.Context, store *database.Store, cfg *config.Config, wallet string, variant models.VariantID, amount string) (string, error) {
	cat, err := store.LoadCatalog(ctx)
	if err != nil {
		return "", err
	}
	v, err := cat.Variant(variant)
	if err != nil {
		return "", err
	}
	paid := v.Price
	if amount != "" {
		if paid, err = decimal.NewFromString(amount); err != nil {
			return "", fmt.Errorf("amount: %w", err)
		}
	}
	return payment.NewIssuer(cfg.PaymentSecret, cfg.PaymentIssuer).Issue(payment.Confirmation{
		Wallet:  wallet,
		Variant: variant,
		Amount:  paid,
		TxID:    "dev-" + uuid.NewString(),
	}, time.Hour)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
