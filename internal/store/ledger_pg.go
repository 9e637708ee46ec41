package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/flowboard/webhook-engine/internal/domain"
	"github.com/jackc/pgx/v5"
)

const attemptColumns = `id, subscription_id, event_type, payload, status,
	attempt_count, last_attempt_at, response_status, response_body,
	response_headers, last_error, created_at`

// RecordAttempt upserts the attempt keyed by id, so re-recording after each
// state transition always reflects the latest known state.
func (s *PostgresStore) RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	var respStatus *int
	var respBody *string
	var respHeaders []byte
	if attempt.LastResponse != nil {
		respStatus = &attempt.LastResponse.StatusCode
		respBody = &attempt.LastResponse.Body
		if attempt.LastResponse.Headers != nil {
			var err error
			respHeaders, err = json.Marshal(attempt.LastResponse.Headers)
			if err != nil {
				return fmt.Errorf("marshaling response headers: %w", err)
			}
		}
	}

	var lastErr *string
	if attempt.LastError != "" {
		lastErr = &attempt.LastError
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (id, subscription_id, event_type, payload, status, attempt_count, last_attempt_at, response_status, response_body, response_headers, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			last_attempt_at = EXCLUDED.last_attempt_at,
			response_status = EXCLUDED.response_status,
			response_body = EXCLUDED.response_body,
			response_headers = EXCLUDED.response_headers,
			last_error = EXCLUDED.last_error
	`, attempt.ID, attempt.SubscriptionID, attempt.EventType, attempt.Payload,
		attempt.Status, attempt.AttemptCount, attempt.LastAttemptAt,
		respStatus, respBody, respHeaders, lastErr, attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording delivery attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE id = $1`, id)

	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("querying delivery attempt: %w", err)
	}
	return attempt, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, subscriptionID, status string, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts`
	args := []any{}
	argIdx := 1
	conditions := []string{}

	if subscriptionID != "" {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argIdx))
		args = append(args, subscriptionID)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, *attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery attempts: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) PurgeAttempts(ctx context.Context, subscriptionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM delivery_attempts WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("purging delivery attempts: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	var lastErr *string
	if dl.LastError != "" {
		lastErr = &dl.LastError
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, attempt_id, subscription_id, event_type, total_attempts, last_error, last_http_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dl.ID, dl.AttemptID, dl.SubscriptionID, dl.EventType, dl.TotalAttempts, lastErr, dl.LastHTTPStatus)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, subscriptionID string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, attempt_id, subscription_id, event_type, total_attempts,
		COALESCE(last_error, ''), last_http_status, created_at, resolved_at,
		COALESCE(resolved_by, '')
		FROM dead_letters`
	args := []any{}
	argIdx := 1
	conditions := []string{}

	if subscriptionID != "" {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argIdx))
		args = append(args, subscriptionID)
		argIdx++
	}
	if resolved {
		conditions = append(conditions, "resolved_at IS NOT NULL")
	} else {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	query += " WHERE " + strings.Join(conditions, " AND ")
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var letters []domain.DeadLetter
	for rows.Next() {
		var dl domain.DeadLetter
		err := rows.Scan(
			&dl.ID, &dl.AttemptID, &dl.SubscriptionID, &dl.EventType,
			&dl.TotalAttempts, &dl.LastError, &dl.LastHTTPStatus,
			&dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return letters, nil
}

func (s *PostgresStore) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := s.pool.QueryRow(ctx, `
		SELECT id, attempt_id, subscription_id, event_type, total_attempts,
			COALESCE(last_error, ''), last_http_status, created_at, resolved_at,
			COALESCE(resolved_by, '')
		FROM dead_letters WHERE id = $1
	`, id).Scan(
		&dl.ID, &dl.AttemptID, &dl.SubscriptionID, &dl.EventType,
		&dl.TotalAttempts, &dl.LastError, &dl.LastHTTPStatus,
		&dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("querying dead letter: %w", err)
	}
	return &dl, nil
}

func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id, resolvedBy string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE dead_letters SET resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolving dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Metrics returns aggregated delivery statistics for the dashboard.
func (s *PostgresStore) Metrics(ctx context.Context) (*DeliveryMetrics, error) {
	var m DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM delivery_attempts
	`).Scan(&m.TotalDeliveries, &m.SentCount, &m.FailedCount)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	if m.TotalDeliveries > 0 {
		m.SuccessRate = float64(m.SentCount) / float64(m.TotalDeliveries) * 100
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL`,
	).Scan(&m.DeadLetterCount)
	if err != nil {
		return nil, fmt.Errorf("querying dead letter count: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE enabled = true`,
	).Scan(&m.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	return &m, nil
}

func scanAttempt(row pgx.Row) (*domain.DeliveryAttempt, error) {
	var a domain.DeliveryAttempt
	var respStatus *int
	var respBody *string
	var respHeaders []byte
	var lastErr *string

	err := row.Scan(
		&a.ID, &a.SubscriptionID, &a.EventType, &a.Payload, &a.Status,
		&a.AttemptCount, &a.LastAttemptAt, &respStatus, &respBody,
		&respHeaders, &lastErr, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if respStatus != nil {
		resp := &domain.DeliveryResponse{StatusCode: *respStatus}
		if respBody != nil {
			resp.Body = *respBody
		}
		if len(respHeaders) > 0 {
			var headers http.Header
			if err := json.Unmarshal(respHeaders, &headers); err != nil {
				return nil, fmt.Errorf("unmarshaling response headers: %w", err)
			}
			resp.Headers = headers
		}
		a.LastResponse = resp
	}
	if lastErr != nil {
		a.LastError = *lastErr
	}
	return &a, nil
}
