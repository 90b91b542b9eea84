package db

import (
	"context"
	"encoding/json"
	"fmt"

	"relaygate/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS automation_rules (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	definition JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the rules table if it does not exist
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, schema)
	return err
}

// LoadRules fetches all rules in creation order
func (d *DB) LoadRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := d.pool.Query(ctx, "SELECT id, definition FROM automation_rules ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var id string
		var definition []byte
		if err := rows.Scan(&id, &definition); err != nil {
			return nil, err
		}
		var r models.Rule
		if err := json.Unmarshal(definition, &r); err != nil {
			return nil, fmt.Errorf("rule %s: %w", id, err)
		}
		r.ID = id
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveRule inserts or replaces a rule
func (d *DB) SaveRule(ctx context.Context, rule models.Rule) error {
	definition, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO automation_rules (id, name, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.Name, definition, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// DeleteRule removes a rule by id
func (d *DB) DeleteRule(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, "DELETE FROM automation_rules WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}
