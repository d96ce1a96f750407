// Package auth はOAuth認証フロー、セッション管理を提供する。
// ログインとログアウトはStateNotifierを通じて認証状態の購読者へ通知される。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// StateNotifier はセッションごとの認証状態の変化を通知する先。
// authstate.Hubが実装する。identityがnilの場合はログアウトを表す。
type StateNotifier interface {
	Publish(sessionID string, identity *model.Identity)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	linkRepo    repository.ProviderLinkRepository
	sessionRepo repository.SessionRepository
	notifier    StateNotifier
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。notifierがnilの場合は通知を行わない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	linkRepo repository.ProviderLinkRepository,
	sessionRepo repository.SessionRepository,
	notifier StateNotifier,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		linkRepo:    linkRepo,
		sessionRepo: sessionRepo,
		notifier:    notifier,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとprovider_linksレコードを同時に作成する。
// セッション発行後、新しいセッションの認証状態としてIdentityを通知する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. provider_linksで既存ユーザーを検索
	link, err := s.linkRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find provider link: %w", err)
	}

	var user *model.User
	if link != nil {
		// 3a. 既存ユーザー: IdP側で変更された連絡先を反映する
		if err := s.userRepo.UpdateContact(ctx, link.UserID, info.Email, info.Name); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		user = &model.User{ID: link.UserID, Email: info.Email, Name: info.Name}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	} else {
		// 3b. 新規ユーザー: usersとprovider_linksを同時に作成
		user, err = s.createUser(ctx, info)
		if err != nil {
			return nil, err
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 5. 認証状態の購読者へ通知
	if s.notifier != nil {
		s.notifier.Publish(session.ID, model.IdentityFromUser(user))
	}

	return session, nil
}

// Logout はセッションを破棄し、ログアウトを通知する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if s.notifier != nil {
		s.notifier.Publish(sessionID, nil)
	}

	slog.Info("user logged out", slog.String("session_id", maskSessionID(sessionID)))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// IdentityForSession はセッションに紐づくIdentityを返す。
// セッションが存在しないか期限切れの場合はnilを返す（エラーではない）。
func (s *Service) IdentityForSession(ctx context.Context, sessionID string) (*model.Identity, error) {
	if sessionID == "" {
		return nil, nil
	}

	identity, err := s.sessionRepo.FindIdentity(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session identity: %w", err)
	}
	return identity, nil
}

func (s *Service) createUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	link := &model.ProviderLink{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithProviderLink(ctx, user, link); err != nil {
		return nil, fmt.Errorf("failed to create user and provider link: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// maskSessionID はセッションIDをログ出力用に短縮する。
func maskSessionID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
