package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

func (s *Store) InsertActivity(ctx context.Context, e store.ActivityEntry) error {
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, ip_address, user_agent, action, category, severity,
			resource_type, resource_id, metadata, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, nullString(e.UserID), e.IPAddress, e.UserAgent, e.Action, e.Category, e.Severity,
		e.ResourceType, e.ResourceID, meta, e.Success, e.ErrorMessage, e.CreatedAt,
	)
	return dbError(err)
}

func (s *Store) QueryActivity(ctx context.Context, q store.Query) ([]store.ActivityEntry, error) {
	where, args, err := buildWhere(activityColumns, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ip_address, user_agent, action, category, severity,
			resource_type, resource_id, metadata, success, error_message, created_at
		FROM activity_log`+where,
		args...,
	)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []store.ActivityEntry
	for rows.Next() {
		var (
			e      store.ActivityEntry
			userID sql.NullString
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &userID, &e.IPAddress, &e.UserAgent, &e.Action, &e.Category, &e.Severity,
			&e.ResourceType, &e.ResourceID, &meta, &e.Success, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, dbError(err)
		}
		e.UserID = userID.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, dbError(rows.Err())
}

func (s *Store) PruneActivity(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}
