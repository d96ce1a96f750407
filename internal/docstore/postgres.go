package docstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore はPostgreSQLのdocumentsテーブル（JSONB）を使用したドキュメントストア。
// テーブルはdatabase/migrationsで作成される。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get は指定ドキュメントを取得する。見つからない場合はnilを返す。
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validatePath(collection, id); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: data}, nil
}

// Set はドキュメントを書き込む。
// Mergeの場合はJSONBの || 演算子でトップレベルのキーを上書きする。
func (s *PostgresStore) Set(ctx context.Context, collection, id string, data map[string]any, opts SetOptions) error {
	if err := validatePath(collection, id); err != nil {
		return err
	}

	raw, err := encodeData(data)
	if err != nil {
		return err
	}

	query := `INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, now(), now())
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if opts.Merge {
		query = `INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, now(), now())
		 ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`
	}

	if _, err := s.db.ExecContext(ctx, query, collection, id, string(raw)); err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Add はUUIDを採番して新規ドキュメントを作成する。
func (s *PostgresStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.New().String()
	if err := validatePath(collection, id); err != nil {
		return "", err
	}

	raw, err := encodeData(data)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, now(), now())`,
		collection, id, string(raw),
	)
	if err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	return id, nil
}

// List はコレクション内の全ドキュメントを作成順で返す。
func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = $1 ORDER BY seq ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Delete は指定ドキュメントを削除する。存在しない場合もエラーにしない。
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := validatePath(collection, id); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
