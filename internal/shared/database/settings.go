package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// GetRoutingSettings loads a user's stored overrides. It returns (nil, nil)
// when the user has never saved any.
func (db *DB) GetRoutingSettings(ctx context.Context, userID string) (*models.RoutingSettings, error) {
	query := db.rebind(`
		SELECT task_routing, tool_routing, custom_patterns, default_tier, enable_chaining,
		       chain_configs, cost_limit_daily, prefer_speed, prefer_quality, updated_at
		FROM routing_settings
		WHERE user_id = ?
	`)

	var (
		taskRouting, toolRouting, patterns, chains string
		defaultTier                                sql.NullString
		enableChaining, preferSpeed, preferQuality sql.NullBool
		costLimit                                  sql.NullFloat64
		updatedAt                                  int64
	)
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&taskRouting,
		&toolRouting,
		&patterns,
		&defaultTier,
		&enableChaining,
		&chains,
		&costLimit,
		&preferSpeed,
		&preferQuality,
		&updatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	settings := &models.RoutingSettings{
		UserID:    userID,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}
	if err := decodeJSON(taskRouting, &settings.TaskRouting); err != nil {
		return nil, fmt.Errorf("decode task_routing: %w", err)
	}
	if err := decodeJSON(toolRouting, &settings.ToolRouting); err != nil {
		return nil, fmt.Errorf("decode tool_routing: %w", err)
	}
	if err := decodeJSON(patterns, &settings.CustomPatterns); err != nil {
		return nil, fmt.Errorf("decode custom_patterns: %w", err)
	}
	if err := decodeJSON(chains, &settings.ChainConfigs); err != nil {
		return nil, fmt.Errorf("decode chain_configs: %w", err)
	}

	if defaultTier.Valid {
		tier, err := models.ParseTier(defaultTier.String)
		if err != nil {
			return nil, fmt.Errorf("decode default_tier: %w", err)
		}
		settings.DefaultTier = &tier
	}
	if enableChaining.Valid {
		settings.EnableChaining = &enableChaining.Bool
	}
	if costLimit.Valid {
		settings.CostLimitDaily = &costLimit.Float64
	}
	if preferSpeed.Valid {
		settings.PreferSpeed = &preferSpeed.Bool
	}
	if preferQuality.Valid {
		settings.PreferQuality = &preferQuality.Bool
	}

	return settings, nil
}

// SaveRoutingSettings inserts or replaces a user's stored overrides
func (db *DB) SaveRoutingSettings(ctx context.Context, settings *models.RoutingSettings) error {
	taskRouting, err := encodeJSON(settings.TaskRouting)
	if err != nil {
		return err
	}
	toolRouting, err := encodeJSON(settings.ToolRouting)
	if err != nil {
		return err
	}
	patterns, err := encodeJSON(settings.CustomPatterns)
	if err != nil {
		return err
	}
	chains, err := encodeJSON(settings.ChainConfigs)
	if err != nil {
		return err
	}

	var defaultTier sql.NullString
	if settings.DefaultTier != nil {
		defaultTier = sql.NullString{String: string(*settings.DefaultTier), Valid: true}
	}

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}

	query := db.rebind(`
		INSERT INTO routing_settings (
			user_id, task_routing, tool_routing, custom_patterns, default_tier, enable_chaining,
			chain_configs, cost_limit_daily, prefer_speed, prefer_quality, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			task_routing = excluded.task_routing,
			tool_routing = excluded.tool_routing,
			custom_patterns = excluded.custom_patterns,
			default_tier = excluded.default_tier,
			enable_chaining = excluded.enable_chaining,
			chain_configs = excluded.chain_configs,
			cost_limit_daily = excluded.cost_limit_daily,
			prefer_speed = excluded.prefer_speed,
			prefer_quality = excluded.prefer_quality,
			updated_at = excluded.updated_at
	`)

	_, err = db.conn.ExecContext(ctx,
		query,
		settings.UserID,
		taskRouting,
		toolRouting,
		patterns,
		defaultTier,
		nullBool(settings.EnableChaining),
		chains,
		nullFloat(settings.CostLimitDaily),
		nullBool(settings.PreferSpeed),
		nullBool(settings.PreferQuality),
		settings.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize settings: %w", err)
	}
	if string(data) == "null" {
		return "{}", nil
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
