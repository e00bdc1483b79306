package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

const usageColumns = `id, user_id, conversation_id, tier, model, input_tokens, output_tokens,
		       task_type, routing_reason, latency_ms, created_at`

// AppendUsage writes one usage event to the ledger
func (db *DB) AppendUsage(ctx context.Context, event *models.UsageEvent) error {
	query := db.rebind(`
		INSERT INTO model_usage (
			id, user_id, conversation_id, tier, model, input_tokens, output_tokens,
			task_type, routing_reason, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var conversationID sql.NullString
	if event.ConversationID != nil {
		conversationID = sql.NullString{String: *event.ConversationID, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		query,
		event.ID,
		event.UserID,
		conversationID,
		string(event.Tier),
		event.Model,
		event.InputTokens,
		event.OutputTokens,
		nullString(event.TaskType),
		nullString(event.RoutingReason),
		event.LatencyMs,
		event.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// ListUsageSince returns a user's events created at or after since, oldest first
func (db *DB) ListUsageSince(ctx context.Context, userID string, since time.Time) ([]models.UsageEvent, error) {
	query := db.rebind(`SELECT ` + usageColumns + `
		FROM model_usage
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC
	`)

	rows, err := db.conn.QueryContext(ctx, query, userID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	return scanUsage(rows)
}

// ListUsageHistory returns a page of a user's events, newest first, plus the
// total number of matching events. An empty tier matches every tier.
func (db *DB) ListUsageHistory(ctx context.Context, userID string, tier models.Tier, limit, offset int) ([]models.UsageEvent, int, error) {
	where := `WHERE user_id = ?`
	args := []any{userID}
	if tier != "" {
		where += ` AND tier = ?`
		args = append(args, string(tier))
	}

	var total int
	countQuery := db.rebind(`SELECT COUNT(*) FROM model_usage ` + where)
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("database error: %w", err)
	}

	query := db.rebind(`SELECT ` + usageColumns + `
		FROM model_usage ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := db.conn.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	events, err := scanUsage(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func scanUsage(rows *sql.Rows) ([]models.UsageEvent, error) {
	var events []models.UsageEvent
	for rows.Next() {
		var (
			e                                models.UsageEvent
			tier                             string
			conversationID, taskType, reason sql.NullString
			createdAt                        int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&conversationID,
			&tier,
			&e.Model,
			&e.InputTokens,
			&e.OutputTokens,
			&taskType,
			&reason,
			&e.LatencyMs,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}

		e.Tier = models.Tier(tier)
		if conversationID.Valid {
			id := conversationID.String
			e.ConversationID = &id
		}
		e.TaskType = taskType.String
		e.RoutingReason = reason.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
