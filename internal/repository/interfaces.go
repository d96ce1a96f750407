// Package repository は認証関連データの永続化インターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/rutas/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithProviderLink はユーザーとプロバイダ連携を同一トランザクションで作成する。
	CreateWithProviderLink(ctx context.Context, user *model.User, link *model.ProviderLink) error

	// UpdateContact はIdPから取得したメールアドレスと表示名を更新する。
	UpdateContact(ctx context.Context, id, email, name string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するprovider_links、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ProviderLinkRepository は外部IdP紐付け情報の永続化インターフェース。
type ProviderLinkRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ProviderLink, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindIdentity はセッションに紐づくユーザーのIdentityを取得する。
	// セッションが存在しないか期限切れの場合はnilを返す。
	FindIdentity(ctx context.Context, sessionID string) (*model.Identity, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
