// Package app assembles the storage, external clients and services shared by
// the server, worker and admin binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/domain/access"
	"docchat/internal/domain/auth"
	"docchat/internal/domain/chat"
	"docchat/internal/domain/document"
	"docchat/internal/domain/project"
	"docchat/internal/domain/tier"
	"docchat/internal/infrastructure/cache"
	"docchat/internal/infrastructure/objectstore"
	"docchat/internal/infrastructure/queue"
	"docchat/internal/infrastructure/ratelimit"
	"docchat/internal/infrastructure/resilient"
	"docchat/internal/infrastructure/storage/postgres"
	"docchat/pkg/logger"
)

var (
	_ domain.Repository[auth.User] = (*postgres.Repository[auth.User])(nil)
	_ access.Store                 = (*postgres.Repository[access.AccessControl])(nil)
)

// Client is an external service whose connection is managed by resilient.
type Client interface {
	resilient.Service
	Init(ctx context.Context) error
}

// App holds every long-lived dependency of a process.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Pool      *postgres.Pool
	TxManager *postgres.TxManager

	Cache   *cache.Client
	Objects *objectstore.Store
	Queue   *queue.Queue
	Limiter *ratelimit.Limiter

	JWT       *auth.JWTService
	Auth      *auth.Service
	Gate      *access.Gate
	Tiers     *tier.Service
	Projects  *project.Service
	Sessions  *chat.SessionService
	Messages  *chat.MessageService
	Documents *document.Service
	Links     *document.LinkService
}

// New connects to PostgreSQL and builds the clients and services. External
// clients are created disconnected; call Connect to dial them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &App{Config: cfg, Log: log, Pool: pool, TxManager: postgres.NewTxManager(pool)}
	if err := a.buildClients(); err != nil {
		pool.Close()
		return nil, err
	}
	a.buildServices()
	return a, nil
}

func (a *App) buildClients() error {
	policy := a.Config.RetryPolicy()
	redisCfg := func(addr string) resilient.RedisConfig {
		return resilient.RedisConfig{Addr: addr, Password: a.Config.Redis.Password}
	}

	c, err := cache.New(cache.Config{Redis: redisCfg(a.Config.Redis.CacheAddr), Policy: policy}, a.Log)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	a.Cache = c
	a.Objects = objectstore.New(objectstore.Config{
		Endpoint:  a.Config.MinIO.Endpoint,
		AccessKey: a.Config.MinIO.AccessKey,
		SecretKey: a.Config.MinIO.SecretKey,
		Bucket:    a.Config.MinIO.Bucket,
		Secure:    a.Config.MinIO.Secure,
		Policy:    policy,
	}, a.Log)
	a.Queue = queue.New(queue.Config{Redis: redisCfg(a.Config.Redis.QueueAddr), Policy: policy}, a.Log)
	a.Limiter = ratelimit.New(ratelimit.Config{Redis: redisCfg(a.Config.Redis.RateLimitAddr), Policy: policy}, a.Log)
	return nil
}

func (a *App) buildServices() {
	txm := a.TxManager

	users := postgres.NewRepository[auth.User](txm, auth.Table)
	grants := postgres.NewRepository[access.AccessControl](txm, access.Table)
	tiers := postgres.NewRepository[tier.Tier](txm, tier.Table)
	limits := postgres.NewRepository[tier.RateLimit](txm, tier.RateLimitsTable)
	projects := postgres.NewRepository[project.Project](txm, project.Table)
	messages := postgres.NewRepository[chat.Message](txm, chat.MessagesTable)
	sessions := postgres.NewRepository[chat.Session](txm, chat.SessionsTable).
		WithRelation(chat.MessagesRelation, postgres.HasMany[chat.Session, chat.Message]{
			Table:      chat.MessagesTable,
			ForeignKey: "chat_session_id",
			OrderBy:    "sequence_number ASC",
			ParentID:   func(s *chat.Session) int64 { return s.ID },
			ChildFK:    func(m chat.Message) int64 { return m.ChatSessionID },
			Set:        func(s *chat.Session, ms []chat.Message) { s.Messages = ms },
		}.Relation())
	documents := postgres.NewRepository[document.Document](txm, document.Table)
	links := postgres.NewRepository[document.Link](txm, document.LinksTable)

	jwtCfg := auth.DefaultJWTConfig(a.Config.JWT.Secret)
	jwtCfg.AccessTokenTTL = a.Config.JWT.AccessTTL
	a.JWT = auth.NewJWTService(jwtCfg)
	a.Auth = auth.NewService(users, a.JWT, a.Log)

	a.Gate = access.NewGate(grants, a.Log)
	a.Tiers = tier.NewService(tiers, limits, a.Cache, a.Config.RateLimit, a.Log)
	a.Projects = project.NewService(projects, a.Gate, txm, a.Log)
	a.Sessions = chat.NewSessionService(sessions, a.Gate, txm, a.Log)
	a.Messages = chat.NewMessageService(messages, sessions, a.Gate, txm, a.Log)
	a.Documents = document.NewService(documents, a.Gate, txm, a.Objects, a.Queue, a.Log)
	a.Links = document.NewLinkService(links, a.Gate)
}

// Clients lists the external clients in the order they are reported.
func (a *App) Clients() []Client {
	return []Client{a.Cache, a.Objects, a.Queue, a.Limiter}
}

// Connect dials every client concurrently. A client that stays unreachable is
// logged and left to reconnect on use; Connect itself never fails.
func (a *App) Connect(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range a.Clients() {
		g.Go(func() error {
			if err := c.Init(ctx); err != nil {
				a.Log.Warnw("service unavailable at startup, continuing degraded",
					"service", c.Name(), "error", err)
				return nil
			}
			a.Log.Infow("service connected", "service", c.Name())
			return nil
		})
	}
	_ = g.Wait()
}

// Probe pings every client that is not connected so recovered services are
// picked up without waiting for traffic.
func (a *App) Probe(ctx context.Context) {
	for _, c := range a.Clients() {
		if c.State() == resilient.Connected {
			continue
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ok := c.HealthCheck(ctx)
		cancel()
		if ok {
			a.Log.Infow("service recovered", "service", c.Name())
		}
	}
}

// Close releases the clients and the database pool.
func (a *App) Close() {
	for _, c := range a.Clients() {
		if err := c.Close(); err != nil {
			a.Log.Warnw("close client", "service", c.Name(), "error", err)
		}
	}
	a.Pool.Close()
}
