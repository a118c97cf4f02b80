package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoadRig loads the stored state of one rig
func (p *PostgresClient) LoadRig(ctx context.Context, name string) (*RigState, error) {
	var stateJSON []byte
	var updatedAt time.Time

	err := p.pool.QueryRow(ctx, `
		SELECT state, updated_at
		FROM rig_states
		WHERE name = $1
	`, name).Scan(&stateJSON, &updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRigNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rig state: %w", err)
	}

	var state RigState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rig state: %w", err)
	}
	state.UpdatedAt = updatedAt

	return &state, nil
}

// SaveRig inserts or replaces the state of one rig
func (p *PostgresClient) SaveRig(ctx context.Context, state *RigState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal rig state: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO rig_states (name, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name)
		DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = NOW()
	`, state.Name, stateJSON)

	if err != nil {
		return fmt.Errorf("failed to upsert rig state: %w", err)
	}

	return nil
}

// AppendTelemetry stores one tick summary
func (p *PostgresClient) AppendTelemetry(ctx context.Context, rig string, row TelemetryRow) error {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry row: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO telemetry (id, rig_name, recorded_at, row)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), rig, row.Time, rowJSON)

	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}

	return nil
}

// ListRigs returns the names of all stored rigs
func (p *PostgresClient) ListRigs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM rig_states ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rigs: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan rig: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}
