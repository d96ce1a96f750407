// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileValidator はクライアントから送信されたプロフィールにHTMLマークアップが
// 含まれていないかを検査する。プロフィールは送信された内容のまま保存するため、
// 書き換えは行わず、マークアップを含むものは拒否する。
package security

import (
	"fmt"
	"html"
	"maps"
	"slices"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/rutas/internal/model"
)

// MarkupError はプロフィール内でマークアップが見つかった位置を表す。
type MarkupError struct {
	// Path は "direccion.ciudad" や "tags[1]" 形式の位置。キー自体の場合は末尾がキー名になる。
	Path string
}

func (e *MarkupError) Error() string {
	return fmt.Sprintf("profile contains markup at %s", e.Path)
}

// ProfileValidator はプロフィールの検査を行う。
// bluemondayのポリシーはゴルーチン間で共有できる。
type ProfileValidator struct {
	policy *bluemonday.Policy
}

// NewProfileValidator はすべての要素を拒否するStrictPolicyでProfileValidatorを生成する。
func NewProfileValidator() *ProfileValidator {
	return &ProfileValidator{policy: bluemonday.StrictPolicy()}
}

// Validate はキーと文字列値を再帰的に検査し、最初に見つかったマークアップを*MarkupErrorで返す。
// キーは辞書順に検査する。数値・真偽値・nullは検査しない。入力は変更しない。
func (v *ProfileValidator) Validate(p model.Profile) error {
	return v.checkObject("", p)
}

// IsPlainText はStrictPolicyで除去される要素を含まない場合にtrueを返す。
// "3 < 5" のような山括弧を含むだけのテキストはプレーンテキストとして扱う。
func (v *ProfileValidator) IsPlainText(s string) bool {
	if s == "" {
		return true
	}
	// bluemondayは残したテキストをエスケープするため、両方を戻してから比較する
	return html.UnescapeString(v.policy.Sanitize(s)) == html.UnescapeString(s)
}

func (v *ProfileValidator) checkObject(prefix string, obj map[string]any) error {
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if !v.IsPlainText(k) {
			return &MarkupError{Path: path}
		}
		if err := v.checkValue(path, obj[k]); err != nil {
			return err
		}
	}
	return nil
}

func (v *ProfileValidator) checkValue(path string, value any) error {
	switch val := value.(type) {
	case string:
		if !v.IsPlainText(val) {
			return &MarkupError{Path: path}
		}
	case map[string]any:
		return v.checkObject(path, val)
	case model.Profile:
		return v.checkObject(path, val)
	case []any:
		for i, item := range val {
			if err := v.checkValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}
