// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, route, profile, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidFilter      = "INVALID_FILTER"
	ErrCodeInvalidProfile     = "INVALID_PROFILE"
	ErrCodeNotLoggedIn        = "NOT_LOGGED_IN"
	ErrCodeProfileWriteFailed = "PROFILE_WRITE_FAILED"
	ErrCodeRouteEnrolled      = "ROUTE_HAS_STUDENTS"
	ErrCodeRouteDeleteFailed  = "ROUTE_DELETE_FAILED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeCSRFFailed         = "CSRF_VALIDATION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeUnavailable        = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "フィルタには fecha、guia、tipo のいずれかを指定するか、空にしてください。",
	}
}

// NewInvalidProfileError はプロフィール更新内容が不正な場合のエラーを生成する。
func NewInvalidProfileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProfile,
		Message:  fmt.Sprintf("プロフィールの内容が不正です: %s", reason),
		Category: "validation",
		Action:   "JSONオブジェクト形式でプロフィールを送信してください。",
	}
}

// NewNotLoggedInError は認証済みユーザーが存在しない状態でのプロフィール更新エラーを生成する。
func NewNotLoggedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLoggedIn,
		Message:  "No hay un usuario autenticado.",
		Category: "profile",
		Action:   "ログインし直してください。",
	}
}

// NewProfileWriteFailedError はプロフィール書き込み失敗エラーを生成する。
func NewProfileWriteFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileWriteFailed,
		Message:  "Error al actualizar el perfil.",
		Category: "profile",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRouteEnrolledError は受講者登録済みルートの削除拒否エラーを生成する。
func NewRouteEnrolledError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRouteEnrolled,
		Message:  message,
		Category: "route",
		Action:   "受講者の登録を解除してから削除してください。",
	}
}

// NewRouteDeleteFailedError はルート削除失敗エラーを生成する。
func NewRouteDeleteFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRouteDeleteFailed,
		Message:  message,
		Category: "route",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewUnavailableError はシャットダウン中などでリクエストを受け付けられない場合のエラーを生成する。
func NewUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "サービスを一時的に利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
