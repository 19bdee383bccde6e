package postgres

import (
	"context"

	"github.com/MrEthical07/panelauth/store"
)

func (s *Store) ReplaceToken(ctx context.Context, t store.Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, purpose)
		DO UPDATE SET id = EXCLUDED.id, token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		t.ID, t.UserID, string(t.Purpose), t.Hash, t.ExpiresAt, t.CreatedAt,
	)
	return dbError(err)
}

func (s *Store) ConsumeToken(ctx context.Context, purpose store.TokenPurpose, hash string) (*store.Token, error) {
	var (
		t store.Token
		p string
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM auth_tokens WHERE purpose = $1 AND token_hash = $2
		RETURNING id, user_id, purpose, token_hash, expires_at, created_at`,
		string(purpose), hash,
	).Scan(&t.ID, &t.UserID, &p, &t.Hash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, dbError(err)
	}
	t.Purpose = store.TokenPurpose(p)
	return &t, nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string, purpose store.TokenPurpose) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE user_id = $1 AND purpose = $2`,
		userID, string(purpose),
	)
	return dbError(err)
}
