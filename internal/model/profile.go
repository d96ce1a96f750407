package model

// Profile はユーザーごとのアプリケーション固有属性を表す。
// ドキュメントストアにIdentity.UIDをキーとして保存される。
// プロフィール未作成は空のProfileで表現し、エラーとしては扱わない。
type Profile map[string]any

// Clone はProfileのシャローコピーを返す。nilの場合は空のProfileを返す。
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge はpのコピーにpatchのキーを上書きした結果を返す。
// patchに含まれないキーは保持される。
func (p Profile) Merge(patch Profile) Profile {
	out := p.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// SessionState はアプリケーション全体に公開されるセッション状態。
// IsLoggedがtrueの場合、Identityは非nilかつプロフィール取得に成功している。
type SessionState struct {
	Identity *Identity `json:"user"`
	Profile  Profile   `json:"profile"`
	IsLogged bool      `json:"logged"`
}

// LoggedOutState はログアウト状態 {none, {}, false} を返す。
func LoggedOutState() SessionState {
	return SessionState{Profile: Profile{}}
}

// Clone はSessionStateのコピーを返す。
// Identityとプロフィールのマップは共有しない。
func (s SessionState) Clone() SessionState {
	out := SessionState{
		Profile:  s.Profile.Clone(),
		IsLogged: s.IsLogged,
	}
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}
