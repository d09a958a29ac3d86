package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/dispute"
	"escrowflow/ledger"
	"escrowflow/listing"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
	"escrowflow/validator"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "sellers/buyers per role")
	flValidators  = flag.Int("validators", 5, "number of staked voting validators")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// allowAll satisfies the listing eligibility gate; the stress harness seeds
// balances directly and every seeded account may trade.
type allowAll struct{}

func (allowAll) IsTradeEligible(ctx context.Context, account string) (bool, error) {
	return true, nil
}

func TestEscrowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	ledgerRepo := ledger.NewRepository(pool)
	listingSvc := listing.NewService(pool, listing.NewRepository(pool), ledgerRepo, allowAll{})
	validatorSvc := validator.NewService(pool, validator.NewRepository(pool), ledgerRepo)
	disputeSvc := dispute.NewService(pool, dispute.NewRepository(pool),
		listing.NewRepository(pool), validator.NewRepository(pool), ledgerRepo, listingSvc)

	for _, v := range seedData.validators {
		if _, err := validatorSvc.Stake(ctx, v, validator.MinimumStake); err != nil {
			t.Fatalf("stake validator %s: %v", v, err)
		}
	}

	g, actorCtx := errgroup.WithContext(ctx)
	actorCtx, stopActors := context.WithCancel(actorCtx)
	defer stopActors()

	for _, s := range seedData.sellers {
		s := s
		g.Go(func() error { return actors.Seller(actorCtx, pool, listingSvc, s) })
	}
	for _, b := range seedData.buyers {
		b := b
		g.Go(func() error { return actors.Buyer(actorCtx, pool, listingSvc, b) })
		g.Go(func() error { return actors.Disputer(actorCtx, pool, disputeSvc, b) })
	}
	for _, v := range seedData.validators {
		v := v
		g.Go(func() error { return actors.Voter(actorCtx, pool, disputeSvc, v) })
	}
	g.Go(func() error { return actors.OutboxWorker(actorCtx, pool) })
	go chaos.TerminateRandomBackend(actorCtx, pool)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			for _, o := range oracles.All() {
				if err := oracles.Check(ctx, pool, o); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						break loop
					}
					failed = true
					dumpRecent(t, ctx, pool)
					t.Fatalf("%v (seed=%d)", err, seed)
				}
			}
		}
	}

	stopActors()
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// Quiesce, drain the outbox window, then require every invariant to
	// hold on the settled final state.
	time.Sleep(500 * time.Millisecond)
	for _, o := range oracles.All() {
		if err := oracles.Check(context.Background(), pool, o); err != nil {
			dumpRecent(t, context.Background(), pool)
			t.Fatalf("final %v (seed=%d)", err, seed)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	sellers    []string
	buyers     []string
	validators []string
}

// mustSeed funds seller, buyer and validator accounts. Accounts are plain
// balance rows here; identity and eligibility are exercised by the account
// package's own tests.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs

	fund := func(prefix string, amount int64) string {
		id := fmt.Sprintf("%s-%s", prefix, uuid.NewString())
		if _, err := pool.Exec(ctx,
			`INSERT INTO balances (account_id, amount) VALUES ($1, $2)`, id, amount,
		); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
		return id
	}

	for i := 0; i < *flConcurrency; i++ {
		// Sellers stake 10% per listing; buyers pay full price.
		s.sellers = append(s.sellers, fund("seller", 1_000_000))
		s.buyers = append(s.buyers, fund("buyer", 5_000_000))
	}
	for i := 0; i < *flValidators; i++ {
		s.validators = append(s.validators, fund("validator", 10*validator.MinimumStake))
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"listings", `SELECT id, seller_id, buyer_id, price, seller_stake, status FROM listings ORDER BY created_at DESC LIMIT 50`},
		{"ledger_events", `SELECT id, listing_id, seq, kind, debit_account, credit_account, amount FROM ledger_events ORDER BY id DESC LIMIT 50`},
		{"disputes", `SELECT id, listing_id, status, outcome, created_at FROM disputes ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
