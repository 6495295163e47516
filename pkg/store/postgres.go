package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS processed_images (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		image_data  BYTEA NOT NULL,
		width       INTEGER NOT NULL,
		height      INTEGER NOT NULL,
		iterations  INTEGER NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS processed_images_user_created_idx
		ON processed_images (user_id, created_at DESC)`,
}

const (
	insertImage = `INSERT INTO processed_images (id, user_id, image_data, width, height, iterations, created_at)
		VALUES (:id, :user_id, :image_data, :width, :height, :iterations, :created_at)`
	listImages = `SELECT id, user_id, width, height, iterations, created_at
		FROM processed_images WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	getImage = `SELECT id, user_id, image_data, width, height, iterations, created_at
		FROM processed_images WHERE id = $1 AND user_id = $2`
)

// Postgres は PostgreSQL に合成画像を保存する Store です。
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenPostgres は DSN で接続し、疎通を確認します。
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{db: db, now: time.Now}, nil
}

// NewPostgres は既存の接続から Postgres を作ります。
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: sqlx.NewDb(db, "postgres"), now: time.Now}
}

// Migrate はテーブルとインデックスを作成します。何度実行しても結果は同じです。
func (p *Postgres) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Save(ctx context.Context, userID string, composite *domain.CompositeImage, iterations int) (*domain.ProcessedImage, error) {
	if err := validateSave(userID, composite); err != nil {
		return nil, err
	}
	rec := newRecord(userID, composite, iterations, p.now())
	if _, err := p.db.NamedExecContext(ctx, insertImage, rec); err != nil {
		return nil, fmt.Errorf("insert processed image: %w", err)
	}
	return &rec, nil
}

func (p *Postgres) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ProcessedImage, error) {
	out := make([]domain.ProcessedImage, 0)
	if err := p.db.SelectContext(ctx, &out, listImages, userID, normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("list processed images: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, userID, id string) (*domain.ProcessedImage, error) {
	var rec domain.ProcessedImage
	if err := p.db.GetContext(ctx, &rec, getImage, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get processed image: %w", err)
	}
	return &rec, nil
}
