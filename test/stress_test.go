package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"helpmate/docstore/pgstore"
	"helpmate/match"
	"helpmate/message"
	"helpmate/profile"
	"helpmate/task"
	"helpmate/test/actors"
	"helpmate/test/chaos"
	"helpmate/test/infra"
	"helpmate/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent workers")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends during the run")
)

func TestMarketplaceConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

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
	case os.Getenv(infra.DSNEnv) != "":
		dsn = os.Getenv(infra.DSNEnv)
		usedShared = true
		pgC = &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		t.Skipf("no docker and %s unset", infra.DSNEnv)
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

	store := pgstore.New(pool)
	defer store.Close()

	tasks := task.NewService(task.NewRepository(store), profile.NewRepository(store))
	world := &actors.World{
		Store:    store,
		Tasks:    tasks,
		Matches:  match.NewService(match.NewRepository(store), tasks),
		Messages: message.NewService(store),
		Logf:     t.Logf,
	}
	for i := 0; i < *flConcurrency; i++ {
		world.Workers = append(world.Workers, fmt.Sprintf("worker-%d", i))
	}
	mustSeed(t, ctx, tasks)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, w := range world.Workers {
		g.Go(func() error { return actors.Liker(ctx2, world, w, stop) })
	}
	g.Go(func() error { return actors.Progressor(ctx2, world, stop) })
	g.Go(func() error { return actors.Progressor(ctx2, world, stop) })
	g.Go(func() error { return actors.Canceller(ctx2, world, stop) })
	g.Go(func() error { return actors.Rater(ctx2, world, stop) })
	g.Go(func() error { return actors.Messenger(ctx2, world, stop) })
	g.Go(func() error { return actors.Watcher(ctx2, world, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// Chaos may kill the oracle's own connection.
				t.Logf("oracle error: %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s", name, row)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	name, row, err := oracles.Run(context.Background(), pool)
	if err != nil {
		t.Fatalf("final oracle run: %v", err)
	}
	if name != "" {
		t.Fatalf("Oracle %s failed after the run. First row: %s", name, row)
	}
	t.Logf("unexpected errors tolerated: %d", world.Unexpected.Load())
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

func mustSeed(t *testing.T, ctx context.Context, tasks *task.Service) {
	t.Helper()
	for p := 0; p < 3; p++ {
		poster := fmt.Sprintf("poster-%d", p)
		for i := 0; i < 4; i++ {
			_, err := tasks.Create(ctx, poster, task.Draft{
				Title:         fmt.Sprintf("Errand %d-%d", p, i),
				Category:      "Shopping",
				Description:   "Pick up groceries.",
				Pay:           float64(10 * (i + 1)),
				TimeEstimate:  "1 hour",
				PreferredDate: "2025-03-09",
				PreferredTime: "10:00",
			})
			if err != nil {
				t.Fatalf("seed task: %v", err)
			}
		}
	}
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	rows, err := pool.Query(ctx, `SELECT collection, id, fields::text, updated_at FROM documents
        WHERE collection IN ('matches', 'match_pairs', 'completed_tasks', 'ratings')
        ORDER BY updated_at DESC LIMIT 50`)
	if err != nil {
		t.Logf("dump error: %v", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var (
			collection, id, fields string
			updated                time.Time
		)
		if err := rows.Scan(&collection, &id, &fields, &updated); err != nil {
			t.Logf("dump scan: %v", err)
			return
		}
		t.Logf("%s/%s @%s %s", collection, id, updated.Format(time.RFC3339Nano), fields)
	}
}
