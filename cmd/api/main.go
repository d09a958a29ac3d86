package main

import (
	"context"
	"log"
	"os"

	"escrowflow/account"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/ledger"
	"escrowflow/listing"
	"escrowflow/validator"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	accounts := account.NewService(account.NewRepository(pool), os.Getenv("JWT_SECRET"))
	ledgerRepo := ledger.NewRepository(pool)
	listingRepo := listing.NewRepository(pool)
	validatorRepo := validator.NewRepository(pool)

	listings := listing.NewService(pool, listingRepo, ledgerRepo, accounts)
	validators := validator.NewService(pool, validatorRepo, ledgerRepo)
	disputes := dispute.NewService(pool, dispute.NewRepository(pool), listingRepo, validatorRepo, ledgerRepo, listings)

	log.Printf("escrow engine ready: listings=%v validators=%v disputes=%v",
		listings != nil, validators != nil, disputes != nil)
}
