package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/rutas/internal/model"
)

// ErrNotFound は更新や削除の対象行が存在しないことを表す。
// 取得系は(nil, nil)を返し、このエラーは使わない。
var ErrNotFound = errors.New("repository: not found")

const userColumns = `id, email, name, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	return user, nil
}

// CreateWithProviderLink はユーザーとプロバイダ連携を同一トランザクションで作成する。
// どちらかの挿入に失敗した場合はどちらも作成されない。
func (r *PostgresUserRepo) CreateWithProviderLink(ctx context.Context, user *model.User, link *model.ProviderLink) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provider_links (id, user_id, provider, provider_user_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			link.ID, link.UserID, link.Provider, link.ProviderUserID, link.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert provider link: %w", err)
		}
		return nil
	})
}

// UpdateContact はメールアドレスと表示名を更新する。
// 値が変わらない場合は更新日時も変更しない。
func (r *PostgresUserRepo) UpdateContact(ctx context.Context, id, email, name string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, name = $3, updated_at = now()
		 WHERE id = $1 AND (email <> $2 OR name <> $3)`,
		id, email, name,
	); err != nil {
		return fmt.Errorf("failed to update contact of user %s: %w", id, err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。対象がなければErrNotFoundを返す。
// 関連するprovider_links、sessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete user %s: %w", id, ErrNotFound)
	}
	return nil
}

// inTx はfnをトランザクション内で実行し、エラーがなければコミットする。
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
