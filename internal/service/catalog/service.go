package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/venuepos/venuepos/internal/domain"
	redisx "github.com/venuepos/venuepos/internal/redis"
	redisrepo "github.com/venuepos/venuepos/internal/repository/redis"
)

var (
	ErrQueryTooShort = errors.New("query too short")
	ErrRateLimited   = errors.New("rate limited")
)

// MinSecretQueryLen keeps the ticket search from matching half the
// presale with a two-character prefix.
const MinSecretQueryLen = 6

// Ledger is the read side the catalog needs.
type Ledger interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	AvailabilityFacts(ctx context.Context, productID int64) (*domain.AvailabilityFacts, error)
	PackEntries(ctx context.Context, productID int64) ([]domain.PackEntry, error)
	SearchPreorderPositions(ctx context.Context, prefix string, limit int) ([]domain.PreorderSearchResult, error)
}

// ProductView is one product as the desk sees it: the catalog row plus
// its current availability.
type ProductView struct {
	ID                    int64           `json:"id"`
	Name                  string          `json:"name"`
	Price                 decimal.Decimal `json:"price"`
	TaxRate               decimal.Decimal `json:"tax_rate"`
	IsAdmission           bool            `json:"is_admission"`
	RequiresAuthorization bool            `json:"requires_authorization"`
	Priority              int             `json:"priority"`
	Available             bool            `json:"available"`
	PackItems             []domain.PackEntry `json:"pack_items,omitempty"`
}

type Config struct {
	ProductCacheTTL time.Duration
	SearchLimit     int
}

// Service serves the desk-facing read model: the product list and the
// presale ticket search.
type Service struct {
	ledger  Ledger
	cache   *redisrepo.Cache
	limiter *redisrepo.SlidingWindowLimiter
	cfg     Config
}

func New(ledger Ledger, cache *redisrepo.Cache, limiter *redisrepo.SlidingWindowLimiter, cfg Config) *Service {
	if cfg.ProductCacheTTL <= 0 {
		cfg.ProductCacheTTL = 5 * time.Second
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 20
	}
	return &Service{ledger: ledger, cache: cache, limiter: limiter, cfg: cfg}
}

// Products lists visible products with availability. The result is
// cached briefly; quota movement shows up after the TTL or after a
// checkout invalidates the key.
func (s *Service) Products(ctx context.Context) ([]ProductView, error) {
	const op = "catalog.Service.Products"

	if s.cache == nil {
		return s.loadProducts(ctx)
	}

	out, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyProducts(), s.cfg.ProductCacheTTL,
		func(ctx context.Context) ([]ProductView, error) {
			return s.loadProducts(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Service) loadProducts(ctx context.Context) ([]ProductView, error) {
	const op = "catalog.Service.loadProducts"

	products, err := s.ledger.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		facts, err := s.ledger.AvailabilityFacts(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		entries, err := s.ledger.PackEntries(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		var visible []domain.PackEntry
		for _, e := range entries {
			if e.IsVisible {
				visible = append(visible, e)
			}
		}

		out = append(out, ProductView{
			ID:                    p.ID,
			Name:                  p.Name,
			Price:                 p.Price,
			TaxRate:               p.TaxRate,
			IsAdmission:           p.IsAdmission,
			RequiresAuthorization: p.RequiresAuthorization,
			Priority:              p.Priority,
			Available:             facts.Available(now),
			PackItems:             visible,
		})
	}

	return out, nil
}

// SearchPreorders finds presale tickets by secret prefix. Calls are
// rate-limited per client so the endpoint cannot be used to brute-force
// secrets.
//
// Returns:
//   - error: ErrQueryTooShort for prefixes under MinSecretQueryLen,
//     ErrRateLimited when the client exhausted its window.
func (s *Service) SearchPreorders(ctx context.Context, query, clientID string) ([]domain.PreorderSearchResult, error) {
	const op = "catalog.Service.SearchPreorders"

	if len(query) < MinSecretQueryLen {
		return nil, fmt.Errorf("%s: %w", op, ErrQueryTooShort)
	}

	if s.limiter != nil {
		allowed, _, _, err := s.limiter.Allow(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", op, ErrRateLimited)
		}
	}

	out, err := s.ledger.SearchPreorderPositions(ctx, query, s.cfg.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}
