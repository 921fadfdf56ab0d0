package svc

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/jonboulle/clockwork"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/cache"
	"github.com/tndd/datadoggo-v3-alpaca/internal/config"
	"github.com/tndd/datadoggo-v3-alpaca/internal/ingest"
	"github.com/tndd/datadoggo-v3-alpaca/internal/jobrun"
	"github.com/tndd/datadoggo-v3-alpaca/internal/memstore"
	"github.com/tndd/datadoggo-v3-alpaca/internal/repo"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/confkit"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/ratelimit"
)

const schemaTimeout = 30 * time.Second

// Options adjusts how the service context is assembled.
type Options struct {
	// DryRun keeps entities, cursors and job runs in memory; no database is
	// opened.
	DryRun bool
	Clock  clockwork.Clock
	// Fetcher replaces the HTTP client, mainly for tests.
	Fetcher ingest.Fetcher
}

type ServiceContext struct {
	Config config.Config
	Clock  clockwork.Clock

	AlpacaConfig *alpaca.Config
	Client       *alpaca.Client
	Governor     *ratelimit.Governor

	// Exactly one of Repos (database) and Memory (dry run) is set.
	DBConn sqlx.SqlConn
	Repos  *repo.Set
	Memory *memstore.Store
	Redis  *redis.Redis

	Tracker *jobrun.Tracker
	Runner  *ingest.Runner
}

func NewServiceContext(ctx context.Context, c config.Config, opts Options) (*ServiceContext, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	svc := &ServiceContext{Config: c, Clock: clock}

	ac, err := c.AlpacaConfig()
	if err != nil {
		return nil, fmt.Errorf("alpaca config: %w", err)
	}
	if !ac.HasCredentials() {
		logx.WithContext(ctx).Slowf("svc: alpaca credentials are not configured; authenticated endpoints will fail")
	}
	svc.AlpacaConfig = ac
	svc.Client = alpaca.NewClient(ac)
	var fetcher ingest.Fetcher = svc.Client
	if opts.Fetcher != nil {
		fetcher = opts.Fetcher
	}

	svc.Governor, err = ratelimit.New(ratelimit.Config{
		Limit:  c.Ingest.RequestsPerMinute,
		Window: time.Minute,
		Burst:  c.Ingest.Burst,
	}, clock)
	if err != nil {
		return nil, err
	}

	var (
		entities ingest.EntityWriter
		cursors  ingest.CursorStore
		sinks    []jobrun.Sink
	)
	if opts.DryRun {
		svc.Memory = memstore.New()
		entities, cursors = svc.Memory, svc.Memory
		sinks = append(sinks, svc.Memory)
	} else {
		if err := svc.openDatabase(ctx); err != nil {
			svc.Close()
			return nil, err
		}
		entities, cursors = svc.Repos.Entities, svc.Repos.Cursors
		sinks = append(sinks, svc.Repos.JobRuns)
	}

	if c.RedisEnabled() {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.Redis = rds
		sinks = append(sinks, jobrun.NewRedisMirror(rds, cache.NewTTLSet(c.Cache)))
	}

	svc.Tracker = jobrun.NewTracker(sinks, jobrun.WithClock(clock))
	settings := Settings(c.Ingest)
	if settings.DeadLetterDir != "" {
		settings.DeadLetterDir = confkit.ResolvePath(c.BaseDir(), settings.DeadLetterDir)
	}
	svc.Runner, err = ingest.NewRunner(settings, ingest.Dependencies{
		Fetcher:  fetcher,
		Requests: alpaca.NewRequestBuilder(ac),
		Governor: svc.Governor,
		Entities: entities,
		Cursors:  cursors,
		Tracker:  svc.Tracker,
		Clock:    clock,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *ServiceContext) openDatabase(ctx context.Context) error {
	dsn, err := s.Config.DSN()
	if err != nil {
		return err
	}
	conn := sqlx.NewSqlConn("pgx", dsn)
	if db, err := conn.RawDB(); err == nil {
		db.SetMaxOpenConns(s.Config.Postgres.MaxOpen)
		db.SetMaxIdleConns(s.Config.Postgres.MaxIdle)
	}
	s.DBConn = conn

	schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
	defer cancel()
	if err := repo.EnsureSchema(schemaCtx, conn, s.Config.Postgres.Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.Repos, err = repo.New(repo.Dependencies{
		DBConn:          conn,
		Schema:          s.Config.Postgres.Schema,
		Clock:           s.Clock,
		PersistAttempts: s.Config.Ingest.PersistAttempts,
		PersistBackoff:  s.Config.Ingest.PersistBackoff,
	})
	return err
}

// Settings maps the file form of the ingest tuning onto runner settings.
func Settings(in config.IngestConf) ingest.Settings {
	return ingest.Settings{
		Workers:              in.Workers,
		MaxAttempts:          in.MaxAttempts,
		BaseBackoff:          in.BaseBackoff,
		MaxBackoff:           in.MaxBackoff,
		MaxRetryAfter:        in.MaxRetryAfter,
		FetchTimeout:         in.FetchTimeout,
		RejectThreshold:      in.RejectThreshold,
		RejectThresholdFatal: in.RejectThresholdFatal,
		DeadLetterDir:        in.DeadLetterDir,
	}
}

// Close flushes outstanding job-run snapshots and releases the database.
func (s *ServiceContext) Close() {
	if s.Tracker != nil {
		s.Tracker.Close()
	}
	if s.DBConn != nil {
		if db, err := s.DBConn.RawDB(); err == nil {
			_ = db.Close()
		}
	}
}
