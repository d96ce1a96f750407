package roster

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/rutas/internal/model"
)

// Mode はフィルタの種類を表す。
type Mode string

const (
	// ModeNone はフィルタなし（取得順のまま）。
	ModeNone Mode = ""
	// ModeDate は日付の昇順で並べ替える。
	ModeDate Mode = "fecha"
	// ModeGuide はガイド名が一致するルートのみを残す。
	ModeGuide Mode = "guia"
	// ModeType は種類が一致するルートのみを残す。
	ModeType Mode = "tipo"
)

// Filter は一覧表示の絞り込み条件。
// Criterion はModeGuideとModeTypeでのみ使用される。
type Filter struct {
	Mode      Mode   `json:"filtro"`
	Criterion string `json:"criterio"`
}

// ParseMode は文字列をModeに変換する。未知の値の場合はエラーを返す。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ModeNone, nil
	case "fecha", "date":
		return ModeDate, nil
	case "guia", "guía", "guide":
		return ModeGuide, nil
	case "tipo", "type":
		return ModeType, nil
	default:
		return ModeNone, fmt.Errorf("unknown filter mode: %q", s)
	}
}

// dateLayouts はfechaとして受け付ける書式。タイムゾーン指定がない場合はUTCとして解釈する。
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// parseFecha はfechaを解析する。解析できない場合はfalseを返す。
func parseFecha(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Apply はroutesにフィルタを適用した新しいスライスを返す。routesは変更しない。
//
// ModeDateは安定ソートで、同じ日付のルートは元の順序を保つ。
// 解析できない日付のルートは末尾に元の順序で並ぶ。
// ModeGuideとModeTypeは大文字小文字を区別した完全一致で、前後の空白も除去しない。
func Apply(routes []model.Route, f Filter) []model.Route {
	switch f.Mode {
	case ModeDate:
		type keyed struct {
			route model.Route
			at    time.Time
			ok    bool
		}
		items := make([]keyed, len(routes))
		for i, r := range routes {
			at, ok := parseFecha(r.Fecha)
			items[i] = keyed{route: r, at: at, ok: ok}
		}
		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i], items[j]
			if a.ok != b.ok {
				return a.ok
			}
			return a.ok && a.at.Before(b.at)
		})
		out := make([]model.Route, len(items))
		for i, it := range items {
			out[i] = it.route
		}
		return out

	case ModeGuide:
		return keep(routes, func(r model.Route) bool { return r.Guia == f.Criterion })

	case ModeType:
		return keep(routes, func(r model.Route) bool { return r.Tipo == f.Criterion })

	default:
		out := make([]model.Route, len(routes))
		copy(out, routes)
		return out
	}
}

func keep(routes []model.Route, pred func(model.Route) bool) []model.Route {
	out := []model.Route{}
	for _, r := range routes {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
