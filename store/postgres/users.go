package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

const userSelect = `SELECT id, username, email, password_hash, first_name, last_name,
	totp_secret, two_factor_enabled, backup_codes,
	is_locked, locked_at, locked_until, failed_login_attempts, last_failed_login,
	require_password_change, email_verified, email_verified_at,
	is_disabled, disabled_at, disabled_by, disable_reason,
	created_at, updated_at
	FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		u                               store.User
		totp, disabledBy, disableReason sql.NullString
		backup                          []byte
		lockedAt, lockedUntil           sql.NullTime
		lastFailed, verifiedAt          sql.NullTime
		disabledAt                      sql.NullTime
	)

	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&totp, &u.TwoFactorEnabled, &backup,
		&u.IsLocked, &lockedAt, &lockedUntil, &u.FailedLoginAttempts, &lastFailed,
		&u.RequirePasswordChange, &u.EmailVerified, &verifiedAt,
		&u.IsDisabled, &disabledAt, &disabledBy, &disableReason,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.TOTPSecret = totp.String
	u.DisabledBy = disabledBy.String
	u.DisableReason = disableReason.String
	u.LockedAt = nullTime(lockedAt)
	u.LockedUntil = nullTime(lockedUntil)
	u.LastFailedLogin = nullTime(lastFailed)
	u.EmailVerifiedAt = nullTime(verifiedAt)
	u.DisabledAt = nullTime(disabledAt)

	codes, err := decodeList(backup)
	if err != nil {
		return nil, fmt.Errorf("decode backup codes: %w", err)
	}
	u.BackupCodes = codes

	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	codes, err := encodeList(u.BackupCodes)
	if err != nil {
		return err
	}

	query := `INSERT INTO users (id, username, email, password_hash, first_name, last_name,
		totp_secret, two_factor_enabled, backup_codes, require_password_change,
		email_verified, email_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		nullString(u.TOTPSecret), u.TwoFactorEnabled, codes, u.RequirePasswordChange,
		u.EmailVerified, timeArg(u.EmailVerifiedAt), u.CreatedAt, u.UpdatedAt,
	)
	return dbError(err)
}

func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, dbError(err)
	}
	return u, nil
}

func (s *Store) FindUser(ctx context.Context, q store.Query) (*store.User, error) {
	q.Limit = 1
	users, err := s.ListUsers(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, store.ErrNotFound
	}
	return &users[0], nil
}

func (s *Store) ListUsers(ctx context.Context, q store.Query) ([]store.User, error) {
	where, args, err := buildWhere(userColumns, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, userSelect+where, args...)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbError(err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return requireRow(res, err)
}

func (s *Store) UpdatePassword(ctx context.Context, id, hash string, requireChange bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, require_password_change = $3, updated_at = $4 WHERE id = $1`,
		id, hash, requireChange, at,
	)
	return requireRow(res, err)
}

func (s *Store) UpdateUserProfile(ctx context.Context, id string, p store.ProfileUpdate, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = $2, email = $3, first_name = $4, last_name = $5,
			require_password_change = $6,
			email_verified = $7,
			email_verified_at = CASE WHEN $7 THEN COALESCE(email_verified_at, $8) ELSE NULL END,
			updated_at = $8
		WHERE id = $1`,
		id, p.Username, p.Email, p.FirstName, p.LastName,
		p.RequirePasswordChange, p.EmailVerified, at,
	)
	return requireRow(res, err)
}

func (s *Store) SetTwoFactor(ctx context.Context, id string, st store.TwoFactorState, at time.Time) error {
	codes, err := encodeList(st.BackupCodes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET totp_secret = $2, two_factor_enabled = $3, backup_codes = $4, updated_at = $5 WHERE id = $1`,
		id, nullString(st.Secret), st.Enabled, codes, at,
	)
	return requireRow(res, err)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (int, error) {
	remaining := 0
	err := s.withTx(ctx, func(tx DBTX) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, `SELECT backup_codes FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
		if err != nil {
			return dbError(err)
		}

		codes, err := decodeList(raw)
		if err != nil {
			return fmt.Errorf("decode backup codes: %w", err)
		}

		idx := -1
		for i, c := range codes {
			if c == hash {
				idx = i
				break
			}
		}
		if idx < 0 {
			remaining = len(codes)
			return store.ErrNotFound
		}

		codes = append(codes[:idx], codes[idx+1:]...)
		encoded, err := encodeList(codes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET backup_codes = $2, updated_at = $3 WHERE id = $1`,
			id, encoded, at,
		); err != nil {
			return dbError(err)
		}
		remaining = len(codes)
		return nil
	})
	return remaining, err
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, email_verified_at = $2, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	return requireRow(res, err)
}

func (s *Store) SetDisabled(ctx context.Context, id string, disabled bool, by, reason string, at time.Time) error {
	var res sql.Result
	var err error
	if disabled {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET is_disabled = TRUE, disabled_at = $2, disabled_by = $3, disable_reason = $4, updated_at = $2 WHERE id = $1`,
			id, at, nullString(by), nullString(reason),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET is_disabled = FALSE, disabled_at = NULL, disabled_by = NULL, disable_reason = NULL, updated_at = $2 WHERE id = $1`,
			id, at,
		)
	}
	return requireRow(res, err)
}

// recordFailedLoginSQL reads the counter under a row lock and writes the
// incremented value in the same statement.
//
//	$1 id, $2 now, $3 reset cutoff, $4 max attempts, $5 lock deadline
const recordFailedLoginSQL = `WITH cur AS (
	SELECT id, is_locked,
		CASE WHEN last_failed_login IS NOT NULL AND last_failed_login < $3
			THEN 1 ELSE failed_login_attempts + 1 END AS attempts
	FROM users WHERE id = $1 FOR UPDATE
)
UPDATE users u SET
	failed_login_attempts = cur.attempts,
	last_failed_login = $2,
	is_locked = u.is_locked OR cur.attempts >= $4,
	locked_at = CASE WHEN NOT cur.is_locked AND cur.attempts >= $4 THEN $2 ELSE u.locked_at END,
	locked_until = CASE WHEN NOT cur.is_locked AND cur.attempts >= $4 THEN $5 ELSE u.locked_until END,
	updated_at = $2
FROM cur WHERE u.id = cur.id
RETURNING u.failed_login_attempts, u.is_locked, u.locked_until`

func (s *Store) RecordFailedLogin(ctx context.Context, id string, now time.Time, p store.LockoutPolicy) (store.LockoutState, error) {
	var (
		st    store.LockoutState
		until sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, recordFailedLoginSQL,
		id, now, now.Add(-p.ResetAfter), p.MaxAttempts, now.Add(p.LockDuration),
	).Scan(&st.FailedAttempts, &st.IsLocked, &until)
	if err != nil {
		return store.LockoutState{}, dbError(err)
	}
	st.LockedUntil = nullTime(until)
	return st, nil
}

func (s *Store) ClearFailedLogins(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, last_failed_login = NULL, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	return requireRow(res, err)
}

func (s *Store) LockUser(ctx context.Context, id string, at time.Time, until *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_locked = TRUE, locked_at = $2, locked_until = $3, updated_at = $2 WHERE id = $1`,
		id, at, timeArg(until),
	)
	return requireRow(res, err)
}

const unlockColumns = `is_locked = FALSE, locked_at = NULL, locked_until = NULL,
	failed_login_attempts = 0, last_failed_login = NULL, updated_at = $2`

func (s *Store) UnlockUser(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+unlockColumns+` WHERE id = $1`, id, at)
	return requireRow(res, err)
}

func (s *Store) UnlockExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+unlockColumns+`
		WHERE id = $1 AND is_locked AND locked_until IS NOT NULL AND locked_until <= $2`,
		id, now,
	)
	if err := requireRow(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
