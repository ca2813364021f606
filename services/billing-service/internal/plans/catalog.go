// Package plans is the catalog of purchasable subscription plans.
package plans

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/provider"
)

const DefaultCurrency = "usd"

type Store interface {
	CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error)
	ListPlans(ctx context.Context) ([]model.Plan, error)
}

// Params describes a new plan. Amount is in major currency units.
type Params struct {
	Name      string
	Amount    float64
	Currency  string
	Interval  string
	TrialDays int
	IsTrial   bool
	Features  model.Features
}

type Catalog struct {
	store    Store
	provider provider.Client
	logger   *slog.Logger
	timeout  time.Duration
}

func NewCatalog(store Store, client provider.Client, logger *slog.Logger, timeout time.Duration) *Catalog {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Catalog{store: store, provider: client, logger: logger, timeout: timeout}
}

// CreatePlan creates the provider product and recurring price, then the
// local row keyed by the new price id. Prices are immutable, so changing a
// plan's amount or interval means creating a new plan.
func (c *Catalog) CreatePlan(ctx context.Context, params Params) (model.Plan, error) {
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	cents := int64(math.Round(params.Amount * 100))

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	product, err := c.provider.CreateProduct(pctx, params.Name)
	if err != nil {
		return model.Plan{}, apperr.Provider("create product", err)
	}
	price, err := c.provider.CreatePrice(pctx, provider.PriceParams{
		ProductID:  product.ID,
		UnitAmount: cents,
		Currency:   currency,
		Interval:   params.Interval,
	})
	if err != nil {
		return model.Plan{}, apperr.Provider("create price", err)
	}

	plan, err := c.store.CreatePlan(ctx, model.Plan{
		Name:      params.Name,
		PriceID:   price.ID,
		ProductID: product.ID,
		Amount:    cents,
		Currency:  currency,
		Interval:  params.Interval,
		TrialDays: params.TrialDays,
		IsTrial:   params.IsTrial,
		Features:  params.Features,
	})
	if err != nil {
		return model.Plan{}, err
	}
	c.logger.Info("plan created", "plan_id", plan.ID, "price_id", plan.PriceID, "interval", plan.Interval)
	return plan, nil
}

func (c *Catalog) ListPlans(ctx context.Context) ([]model.Plan, error) {
	return c.store.ListPlans(ctx)
}
