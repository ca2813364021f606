package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
)

const planColumns = `
	id::text, name, price_id, product_id, amount, currency, interval, trial_days, is_trial,
	user_count, chat_inference, image_generation, video_summarization, stock_insights, news_per_day,
	created_at`

func scanPlan(row pgx.Row) (model.Plan, error) {
	var p model.Plan
	f := &p.Features
	err := row.Scan(
		&p.ID, &p.Name, &p.PriceID, &p.ProductID, &p.Amount, &p.Currency, &p.Interval, &p.TrialDays, &p.IsTrial,
		&f.UserCount, &f.ChatInference, &f.ImageGeneration, &f.VideoSummarization, &f.StockInsights, &f.NewsAggregatorPerDay,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Plan{}, apperr.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	f := p.Features
	created, err := scanPlan(s.pool.QueryRow(ctx, `
		INSERT INTO plans (id, name, price_id, product_id, amount, currency, interval, trial_days, is_trial,
		                   user_count, chat_inference, image_generation, video_summarization, stock_insights, news_per_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+planColumns,
		p.ID, p.Name, p.PriceID, p.ProductID, p.Amount, p.Currency, p.Interval, p.TrialDays, p.IsTrial,
		f.UserCount, f.ChatInference, f.ImageGeneration, f.VideoSummarization, f.StockInsights, f.NewsAggregatorPerDay,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Plan{}, apperr.ErrPlanExists
		}
		return model.Plan{}, err
	}
	return created, nil
}

func (s *Store) GetPlanByPriceID(ctx context.Context, priceID string) (model.Plan, error) {
	return scanPlan(s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE price_id = $1`, priceID))
}

func (s *Store) ListPlans(ctx context.Context) ([]model.Plan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY amount, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
