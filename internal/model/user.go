// Package model はドメインモデルを定義する。
package model

import "time"

// User はダッシュボードを利用する管理者ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderLink は外部IdPのアカウントとユーザーの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type ProviderLink struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Identity は認証サービスが発行する認証済みユーザーの参照。
// UIDはプロフィールドキュメントのキーとして使用される。
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// IdentityFromUser はUserから認証済みIdentityを組み立てる。
func IdentityFromUser(u *User) *Identity {
	if u == nil {
		return nil
	}
	return &Identity{
		UID:         u.ID,
		Email:       u.Email,
		DisplayName: u.Name,
	}
}
