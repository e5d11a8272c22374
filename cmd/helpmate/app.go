package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"helpmate/auth"
	"helpmate/autosave"
	"helpmate/blob"
	"helpmate/config"
	"helpmate/db"
	"helpmate/docstore"
	"helpmate/docstore/memstore"
	"helpmate/docstore/pgstore"
	"helpmate/events"
	"helpmate/geocode"
	"helpmate/logging"
	"helpmate/match"
	"helpmate/message"
	"helpmate/profile"
	"helpmate/task"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// app is the wired service graph shared by all commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store docstore.Store
	pool  *pgxpool.Pool
	nc    *nats.Conn
	redis *redis.Client

	issuer   *auth.Issuer
	profiles *profile.Repository
	tasks    *task.Service
	matches  *match.Service
	messages *message.Service
	geocoder geocode.Geocoder

	blobsOnce sync.Once
	blobs     blob.Store
	blobsErr  error

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, store docstore.Store) (_ *app, err error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store == nil {
		if err := a.openStore(ctx); err != nil {
			return nil, err
		}
	}

	a.issuer, err = auth.NewIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}
	a.issuer.WithTTL(cfg.TokenTTL()).WithRevocations(auth.NewRevocations(a.store))

	a.profiles = profile.NewRepository(a.store)
	a.tasks = task.NewService(task.NewRepository(a.store), a.profiles).WithLogger(logger)
	a.matches = match.NewService(match.NewRepository(a.store), a.tasks).WithLogger(logger)
	a.messages = message.NewService(a.store)

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
		a.nc = nc
		a.closers = append(a.closers, func() { _ = nc.Drain() })
		a.matches.WithEventSink(events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, logger))
	}

	var geocoder geocode.Geocoder = geocode.NewHTTPGeocoder(cfg.Geocode.BaseURL, cfg.Geocode.UserAgent, &http.Client{Timeout: cfg.GeocodeTimeout()})
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client := a.redis
		a.closers = append(a.closers, func() { _ = client.Close() })
		geocoder = geocode.NewCached(geocoder, a.redis, cfg.Redis.KeyPrefix, cfg.CacheTTL()).
			WithNegativeTTL(cfg.NegativeCacheTTL()).
			WithLogger(logger)
	}
	a.geocoder = geocoder
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Database.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.pool = pool
		pg := pgstore.New(pool, pgstore.WithLogger(a.logger))
		a.store = pg
		a.closers = append(a.closers, pool.Close, pg.Close)
	default:
		a.logger.Warn("using in-memory store; nothing is kept after exit")
		mem := memstore.New()
		a.store = mem
		a.closers = append(a.closers, mem.Close)
	}
	return nil
}

func (a *app) blobStore() (blob.Store, error) {
	a.blobsOnce.Do(func() {
		a.blobs, a.blobsErr = blob.New(blob.Config{
			Type:      a.cfg.Blob.Type,
			BasePath:  a.cfg.Blob.BasePath,
			Bucket:    a.cfg.Blob.Bucket,
			Region:    a.cfg.Blob.Region,
			Endpoint:  a.cfg.Blob.Endpoint,
			AccessKey: a.cfg.Blob.AccessKey,
			SecretKey: a.cfg.Blob.SecretKey,
		})
	})
	return a.blobs, a.blobsErr
}

// editor opens a profile editor for the session with the configured autosave
// tuning, geocoder and blob store.
func (a *app) editor(session auth.Session) *profile.Editor {
	opts := []profile.EditorOption{
		profile.WithGeocoder(a.geocoder),
		profile.WithLogger(a.logger),
		profile.WithAutosave(
			autosave.WithWindow(a.cfg.AutosaveWindow()),
			autosave.WithRetry(a.cfg.Autosave.Attempts, a.cfg.AutosaveBaseDelay()),
			autosave.WithLogger(a.logger),
		),
	}
	if blobs, err := a.blobStore(); err == nil {
		opts = append(opts, profile.WithBlobStore(blobs))
	} else {
		a.logger.Warn("avatar storage unavailable", "error", err)
	}
	return profile.NewEditor(session, a.store, opts...)
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func requirePostgres(a *app) error {
	if a.pool == nil {
		return fmt.Errorf("database.store must be %q for this command", config.StorePostgres)
	}
	return nil
}
