package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// InitSQLite はSQLiteドキュメントストアのスキーマを作成する。
// 冪等であり、起動のたびに実行してよい。
func InitSQLite(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, seq);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// SQLiteStore はSQLiteを使用したドキュメントストア。
// ローカル開発やテストで使用する。データはJSON文字列として保存する。
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore はSQLiteStoreを生成する。
// スキーマはInitSQLiteで事前に作成しておくこと。
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Get は指定ドキュメントを取得する。見つからない場合はnilを返す。
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validatePath(collection, id); err != nil {
		return nil, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}

	data, err := decodeData([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: data}, nil
}

// Set はドキュメントを書き込む。
// Mergeの場合は既存データの読み込みと書き込みを同一トランザクションで行う。
func (s *SQLiteStore) Set(ctx context.Context, collection, id string, data map[string]any, opts SetOptions) error {
	if err := validatePath(collection, id); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payload := data
	if opts.Merge {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT data FROM documents WHERE collection = ? AND id = ?`,
			collection, id,
		).Scan(&raw)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read document for merge: %w", err)
		}

		existing, err := decodeData([]byte(raw))
		if err != nil {
			return err
		}
		for k, v := range data {
			existing[k] = v
		}
		payload = existing
	}

	encoded, err := encodeData(payload)
	if err != nil {
		return err
	}

	now := s.now().UTC().Format(sqliteTimeLayout)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, string(encoded), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Add はUUIDを採番して新規ドキュメントを作成する。
func (s *SQLiteStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.New().String()
	if err := validatePath(collection, id); err != nil {
		return "", err
	}

	encoded, err := encodeData(data)
	if err != nil {
		return "", err
	}

	now := s.now().UTC().Format(sqliteTimeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(encoded), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	return id, nil
}

// List はコレクション内の全ドキュメントを作成順で返す。
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? ORDER BY seq ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeData([]byte(raw))
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
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if err := validatePath(collection, id); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	); err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
