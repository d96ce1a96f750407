// Package user はアカウントの退会処理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/repository"
)

// ProfileDeleter はプロフィールドキュメントの削除インターフェース。
// docstore.Storeが実装する。
type ProfileDeleter interface {
	Delete(ctx context.Context, collection, id string) error
}

// StateNotifier は退会したセッションのログアウトを通知する先。
type StateNotifier interface {
	Publish(sessionID string, identity *model.Identity)
}

// Config はServiceの設定。
type Config struct {
	ProfilesCollection string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	profiles    ProfileDeleter
	notifier    StateNotifier
	cfg         Config
}

// NewService はServiceの新しいインスタンスを生成する。profilesとnotifierはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profiles ProfileDeleter,
	notifier StateNotifier,
	cfg Config,
) *Service {
	if cfg.ProfilesCollection == "" {
		cfg.ProfilesCollection = "users"
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: プロフィールドキュメント → sessions → user（+ CASCADE: provider_links）
// 途中で失敗した場合はユーザーが残るため、再実行できる。
// 完了後、退会を要求したセッションにログアウトを通知する。
func (s *Service) Withdraw(ctx context.Context, userID, sessionID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	log := slog.With(slog.String("user_id", userID))
	log.Info("account withdrawal started")

	// 1. プロフィールドキュメントを削除（存在しない場合も成功）
	if s.profiles != nil {
		if err := s.profiles.Delete(ctx, s.cfg.ProfilesCollection, userID); err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
	}

	// 2. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	// 3. ユーザーを削除（provider_linksはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		// 並行した退会で先に削除された
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	// 4. ワークスペースのSynchronizerをログアウト状態にする
	if s.notifier != nil && sessionID != "" {
		s.notifier.Publish(sessionID, nil)
	}

	log.Info("account withdrawal completed")
	return nil
}
