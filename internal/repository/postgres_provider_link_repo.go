package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/rutas/internal/model"
)

// PostgresProviderLinkRepo はPostgreSQLを使用したプロバイダ連携リポジトリ。
type PostgresProviderLinkRepo struct {
	db *sql.DB
}

// NewPostgresProviderLinkRepo はPostgresProviderLinkRepoを生成する。
func NewPostgresProviderLinkRepo(db *sql.DB) *PostgresProviderLinkRepo {
	return &PostgresProviderLinkRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresProviderLinkRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ProviderLink, error) {
	link := &model.ProviderLink{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM provider_links
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&link.ID, &link.UserID, &link.Provider, &link.ProviderUserID, &link.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider link: %w", err)
	}

	return link, nil
}

// compile-time interface check
var _ ProviderLinkRepository = (*PostgresProviderLinkRepo)(nil)
