package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

const Schema = `
CREATE TABLE IF NOT EXISTS monthly_snapshots (
	year       integer     NOT NULL,
	month      integer     NOT NULL,
	data_type  text        NOT NULL,
	payload    jsonb       NOT NULL,
	saved_at   timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (year, month, data_type)
);

CREATE TABLE IF NOT EXISTS session_meta (
	id         smallint    PRIMARY KEY DEFAULT 1,
	year       integer     NOT NULL,
	month      integer     NOT NULL,
	saved_at   timestamptz NOT NULL,
	CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS app_settings (
	id         smallint    PRIMARY KEY DEFAULT 1,
	payload    jsonb       NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS app_users (
	username   text        PRIMARY KEY,
	password   text        NOT NULL,
	role       text        NOT NULL,
	active     boolean     NOT NULL DEFAULT true,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *Store) SaveSnapshot(ctx context.Context, year int, month int, data *domain.ImportedData) (domain.PersistedMeta, error) {
	if err := store.ValidMonth(year, month); err != nil {
		return domain.PersistedMeta{}, err
	}
	parts, err := store.SplitSnapshot(data)
	if err != nil {
		return domain.PersistedMeta{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistedMeta{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	savedAt := time.Now().UTC()
	for dt, payload := range parts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO monthly_snapshots (year, month, data_type, payload, saved_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (year, month, data_type)
			DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at
		`, year, month, string(dt), payload, savedAt); err != nil {
			return domain.PersistedMeta{}, fmt.Errorf("save %s: %w", dt, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_meta (id, year, month, saved_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET year = EXCLUDED.year, month = EXCLUDED.month, saved_at = EXCLUDED.saved_at
	`, year, month, savedAt); err != nil {
		return domain.PersistedMeta{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.PersistedMeta{}, err
	}
	return domain.PersistedMeta{Year: year, Month: month, SavedAt: savedAt}, nil
}

func (s *Store) LoadSnapshot(ctx context.Context, year int, month int) (*domain.ImportedData, error) {
	return s.loadParts(ctx, year, month, nil)
}

func (s *Store) LoadSlices(ctx context.Context, year int, month int, types ...domain.DataType) (*domain.ImportedData, error) {
	if len(types) == 0 {
		return nil, store.ErrInvalidInput
	}
	return s.loadParts(ctx, year, month, types)
}

func (s *Store) loadParts(ctx context.Context, year int, month int, types []domain.DataType) (*domain.ImportedData, error) {
	query := `
		SELECT data_type, payload
		FROM monthly_snapshots
		WHERE year = $1 AND month = $2
	`
	args := []any{year, month}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, dt := range types {
			names = append(names, string(dt))
		}
		query += ` AND data_type = ANY($3)`
		args = append(args, names)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parts := map[domain.DataType][]byte{}
	for rows.Next() {
		var dt string
		var payload []byte
		if err := rows.Scan(&dt, &payload); err != nil {
			return nil, err
		}
		parts[domain.DataType(dt)] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, store.ErrNotFound
	}
	return store.JoinSnapshot(parts)
}

func (s *Store) ListSnapshots(ctx context.Context) ([]domain.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, month, array_agg(data_type ORDER BY data_type), max(saved_at)
		FROM monthly_snapshots
		GROUP BY year, month
		ORDER BY year DESC, month DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SnapshotInfo, 0, 16)
	for rows.Next() {
		var info domain.SnapshotInfo
		var types []string
		if err := rows.Scan(&info.Year, &info.Month, &types, &info.SavedAt); err != nil {
			return nil, err
		}
		for _, dt := range types {
			info.DataTypes = append(info.DataTypes, domain.DataType(dt))
		}
		info.SavedAt = info.SavedAt.UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, year int, month int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM monthly_snapshots WHERE year = $1 AND month = $2`, year, month)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_meta WHERE year = $1 AND month = $2`, year, month); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteAllSnapshots(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM monthly_snapshots`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_meta`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) LastSession(ctx context.Context) (*domain.PersistedMeta, error) {
	var meta domain.PersistedMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT year, month, saved_at
		FROM session_meta
		WHERE id = 1
	`).Scan(&meta.Year, &meta.Month, &meta.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	meta.SavedAt = meta.SavedAt.UTC()
	return &meta, nil
}

func (s *Store) GetSettings(ctx context.Context) (*domain.AppSettings, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM app_settings WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var settings domain.AppSettings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.AppSettings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, payload, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, payload)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleAnalyst
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already exists", store.ErrInvalidInput, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
