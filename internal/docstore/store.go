// Package docstore はコレクション/ドキュメント形式のリモートドキュメントストアを提供する。
//
// プロフィール（users/{uid}）とルート（routes/{id}）はこのストアに保存される。
// バックエンドとしてPostgreSQL（JSONB）とSQLiteの2種類を実装する。
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document はストアに保存された1件のドキュメントを表す。
type Document struct {
	ID   string
	Data map[string]any
}

// SetOptions はSetの書き込みモードを指定する。
type SetOptions struct {
	// Merge がtrueの場合、既存ドキュメントにdataのキーを上書きする。
	// dataに含まれないキーは保持される。falseの場合はドキュメント全体を置き換える。
	Merge bool
}

// Store はドキュメントストアのインターフェース。
type Store interface {
	// Get は指定ドキュメントを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Set はドキュメントを書き込む。存在しない場合は作成する。
	Set(ctx context.Context, collection, id string, data map[string]any, opts SetOptions) error

	// Add はストアが採番したIDで新規ドキュメントを作成し、そのIDを返す。
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	// List はコレクション内の全ドキュメントを作成順で返す。
	List(ctx context.Context, collection string) ([]Document, error)

	// Delete は指定ドキュメントを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, collection, id string) error
}

// encodeData はドキュメントデータをJSONにエンコードする。nilは空オブジェクトになる。
func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document data: %w", err)
	}
	return b, nil
}

// decodeData はJSONをドキュメントデータにデコードする。
func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document data: %w", err)
	}
	return data, nil
}

// validatePath はコレクション名とドキュメントIDが空でないことを検証する。
func validatePath(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("collection is required")
	}
	if id == "" {
		return fmt.Errorf("document ID is required")
	}
	return nil
}
