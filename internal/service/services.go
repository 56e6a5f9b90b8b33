package service

import (
	"context"
	"log/slog"

	redisx "github.com/venuepos/venuepos/internal/redis"
	postgres "github.com/venuepos/venuepos/internal/repository/postgres"
	redisrepo "github.com/venuepos/venuepos/internal/repository/redis"
	"github.com/venuepos/venuepos/internal/service/catalog"
	"github.com/venuepos/venuepos/internal/service/flow"
	"github.com/venuepos/venuepos/internal/service/sessions"
	"github.com/venuepos/venuepos/internal/uow"
)

type Services struct {
	Flow     *flow.Service
	Sessions *sessions.Service
	Catalog  *catalog.Service
}

type Config struct {
	Catalog catalog.Config
}

func NewServices(
	store *postgres.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.SessionsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Services {
	u := uow.NewUoW(store)
	notifier := &sessionNotifier{cache: cache, pubsub: pubsub, log: logger}

	return &Services{
		Flow: flow.New(u,
			func(db postgres.DB) flow.Ledger { return store.Ledger(db) },
			notifier,
		),
		Sessions: sessions.New(u,
			func(db postgres.DB) sessions.Ledger { return store.Ledger(db) },
			notifier,
		),
		Catalog: catalog.New(store.Ledger(nil), cache, limiter, cfg.Catalog),
	}
}

// sessionNotifier fans a committed session change out to the cache and
// the pubsub channel. Failures are logged, not returned: the data is
// already committed.
type sessionNotifier struct {
	cache  *redisrepo.Cache
	pubsub *redisx.SessionsPubSub
	log    *slog.Logger
}

func (n *sessionNotifier) SessionChanged(ctx context.Context, sessionID int64) {
	if n.cache != nil {
		if err := n.cache.InvalidateSession(ctx, sessionID); err != nil && n.log != nil {
			n.log.Warn("invalidate session cache", "session_id", sessionID, "error", err)
		}
	}
	if n.pubsub != nil {
		if err := n.pubsub.PublishSessionChanged(ctx, sessionID); err != nil && n.log != nil {
			n.log.Warn("publish session change", "session_id", sessionID, "error", err)
		}
	}
}
