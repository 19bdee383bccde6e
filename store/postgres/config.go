package postgres

import (
	"context"
	"database/sql"

	"github.com/MrEthical07/panelauth/store"
)

func (s *Store) ConfigValue(ctx context.Context, key string) (*store.ConfigValue, error) {
	var (
		v  store.ConfigValue
		by sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at, updated_by FROM config_values WHERE key = $1`, key,
	).Scan(&v.Key, &v.Value, &v.UpdatedAt, &by)
	if err != nil {
		return nil, dbError(err)
	}
	v.UpdatedBy = by.String
	return &v, nil
}

func (s *Store) PutConfigValue(ctx context.Context, v store.ConfigValue) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_values (key, value, updated_at, updated_by) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		v.Key, string(v.Value), v.UpdatedAt, nullString(v.UpdatedBy),
	)
	return dbError(err)
}

func (s *Store) DeleteConfigValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config_values WHERE key = $1`, key)
	return dbError(err)
}

func (s *Store) ListConfigValues(ctx context.Context) ([]store.ConfigValue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at, updated_by FROM config_values ORDER BY key`)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []store.ConfigValue
	for rows.Next() {
		var (
			v  store.ConfigValue
			by sql.NullString
		)
		if err := rows.Scan(&v.Key, &v.Value, &v.UpdatedAt, &by); err != nil {
			return nil, dbError(err)
		}
		v.UpdatedBy = by.String
		out = append(out, v)
	}
	return out, dbError(rows.Err())
}
