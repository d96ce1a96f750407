package model

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Route はドキュメントストアの "routes" コレクションに保存されたルートを表す。
// フィールド名は既存コレクションのキー名に合わせている。
type Route struct {
	ID                   string `json:"id"`
	Destino              string `json:"destino"`
	Tipo                 string `json:"tipo"`
	Fecha                string `json:"fecha"`
	Guia                 string `json:"guia"`
	EstudiantesSuscritos any    `json:"estudiantesSuscritos"`
}

// ルートドキュメントのフィールドキー
const (
	RouteFieldDestino              = "destino"
	RouteFieldTipo                 = "tipo"
	RouteFieldFecha                = "fecha"
	RouteFieldGuia                 = "guia"
	RouteFieldEstudiantesSuscritos = "estudiantesSuscritos"
)

// RouteFromDocument はストアが採番したIDとフィールドデータからRouteを組み立てる。
// 文字列以外の値は表示用に文字列化する。欠損フィールドは空文字列になる。
func RouteFromDocument(id string, data map[string]any) Route {
	return Route{
		ID:                   id,
		Destino:              stringField(data, RouteFieldDestino),
		Tipo:                 stringField(data, RouteFieldTipo),
		Fecha:                stringField(data, RouteFieldFecha),
		Guia:                 stringField(data, RouteFieldGuia),
		EstudiantesSuscritos: data[RouteFieldEstudiantesSuscritos],
	}
}

// HasEnrolledStudents は受講者が登録済みかどうかを返す。
// estudiantesSuscritos はbool、人数、一覧のいずれでも保存され得るため、
// Truthyで判定する。
func (r Route) HasEnrolledStudents() bool {
	return Truthy(r.EstudiantesSuscritos)
}

// Truthy は動的型の値を真偽値として評価する。
// false、0、NaN、空文字列、nilのみを偽とし、それ以外（空のスライスやマップを含む）は真とする。
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x != ""
		}
		return f != 0 && !math.IsNaN(f)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return Truthy(rv.Elem().Interface())
	default:
		return true
	}
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
