package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mclinic/mclinic/internal/platform/db"
)

// PostgresStore keeps blobs in the blobs table as bytea.
type PostgresStore struct {
	pool    *pgxpool.Pool
	maxSize int64
}

func NewPostgresStore(pool *pgxpool.Pool, maxSize int64) *PostgresStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &PostgresStore{pool: pool, maxSize: maxSize}
}

func (s *PostgresStore) Put(ctx context.Context, meta Blob, content io.Reader) (*Blob, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}
	data, err := readLimited(&meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	err = db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO blobs (key, content_type, size, sha256, content, created_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (key) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			size = EXCLUDED.size,
			sha256 = EXCLUDED.sha256,
			content = EXCLUDED.content,
			created_by = EXCLUDED.created_by,
			created_at = NOW()
		RETURNING created_at`,
		meta.Key, meta.ContentType, meta.Size, meta.Hash, data, meta.CreatedBy,
	).Scan(&meta.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store blob %s: %w", meta.Key, err)
	}
	return &meta, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (io.ReadCloser, *Blob, error) {
	var meta Blob
	var createdBy *string
	var data []byte
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT key, content_type, size, sha256, created_by, created_at, content
		FROM blobs WHERE key = $1`, key,
	).Scan(&meta.Key, &meta.ContentType, &meta.Size, &meta.Hash, &createdBy, &meta.CreatedAt, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("load blob %s: %w", key, err)
	}
	if createdBy != nil {
		meta.CreatedBy = *createdBy
	}
	return io.NopCloser(bytes.NewReader(data)), &meta, nil
}

func (s *PostgresStore) Stat(ctx context.Context, key string) (*Blob, error) {
	var meta Blob
	var createdBy *string
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT key, content_type, size, sha256, created_by, created_at
		FROM blobs WHERE key = $1`, key,
	).Scan(&meta.Key, &meta.ContentType, &meta.Size, &meta.Hash, &createdBy, &meta.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat blob %s: %w", key, err)
	}
	if createdBy != nil {
		meta.CreatedBy = *createdBy
	}
	return &meta, nil
}
