package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Storage provides methods to store and retrieve per-user policies.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Get returns the user's policy with defaults applied. A user with no stored
// row gets the full default policy; that is not an error.
func (s *Storage) Get(ctx context.Context, userID string) (Policy, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT policy FROM sales_policies WHERE user_id = $1`, userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Defaults(), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("failed to get policy: %w", err)
	}

	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to decode stored policy: %w", err)
	}
	return ApplyDefaults(p), nil
}

// Put upserts the user's policy exactly as given. Defaults are never written
// back, so the stored record stays a faithful partial of user intent. Returns
// the advisory needs list for the effective policy.
func (s *Storage) Put(ctx context.Context, userID string, p Policy) ([]string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}

	query := `
		INSERT INTO sales_policies (user_id, policy, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET policy = $2, updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, userID, raw); err != nil {
		return nil, fmt.Errorf("failed to upsert policy: %w", err)
	}

	return ComputeNeeds(ApplyDefaults(p)), nil
}
