package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, name, target_url, event_types, secret, enabled,
	max_retries, timeout_ms, COALESCE(custom_headers, '{}'::jsonb),
	rate_limit_per_second, created_at, updated_at`

func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	sub, err := newSubscription(req)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, name, target_url, event_types, secret, enabled, max_retries, timeout_ms, custom_headers, rate_limit_per_second)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+subscriptionColumns,
		sub.ID, sub.Name, sub.TargetURL, sub.EventTypes, sub.Secret, sub.Enabled,
		sub.MaxRetries, sub.Timeout.Milliseconds(), sub.CustomHeaders, sub.RateLimitPerSecond,
	)

	created, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	setClauses := []string{}
	args := []any{}
	argIdx := 1

	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.Name != nil {
		set("name", *req.Name)
	}
	if req.URL != nil {
		set("target_url", *req.URL)
	}
	if req.Events != nil {
		set("event_types", req.Events)
	}
	if req.Enabled != nil {
		set("enabled", *req.Enabled)
	}
	if req.Headers != nil {
		set("custom_headers", *req.Headers)
	}
	if req.MaxRetries != nil {
		set("max_retries", *req.MaxRetries)
	}
	if req.TimeoutSeconds != nil {
		set("timeout_ms", (time.Duration(*req.TimeoutSeconds) * time.Second).Milliseconds())
	}
	if req.RateLimitPerSecond != nil {
		set("rate_limit_per_second", *req.RateLimitPerSecond)
	}

	if len(setClauses) == 0 {
		return s.GetSubscription(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argIdx, subscriptionColumns)
	args = append(args, id)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("toggling subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	// delivery_attempts and dead_letters cascade via foreign keys
	result, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindActiveFor(ctx context.Context, eventType string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE enabled = true AND $1 = ANY(event_types)
		ORDER BY created_at
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("finding matching subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var timeoutMs int64
	err := row.Scan(
		&sub.ID, &sub.Name, &sub.TargetURL, &sub.EventTypes, &sub.Secret,
		&sub.Enabled, &sub.MaxRetries, &timeoutMs, &sub.CustomHeaders,
		&sub.RateLimitPerSecond, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}
