// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrations には認証テーブル（users, provider_links, sessions）と
// ドキュメントストアのdocumentsテーブルが含まれる。
//
//go:embed migrations/*.sql
var migrations embed.FS

// ErrDirtyMigration は前回のマイグレーションが途中で失敗している場合に返される。
// 手動でスキーマを確認し、migrate forceで版を確定させる必要がある。
var ErrDirtyMigration = errors.New("database schema is dirty")

// MigrationStatus は適用済みのスキーマ版を表す。
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

// NewMigrator は埋め込みマイグレーションを使うmigrateインスタンスを生成する。
// 呼び出し側でCloseすること。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// Migrate は未適用のマイグレーションをすべて適用し、適用後の版を返す。
// dirtyな状態からは適用を開始しない。
func Migrate(databaseURL string) (MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	before, err := status(m)
	if err != nil {
		return MigrationStatus{}, err
	}
	if before.Dirty {
		return before, fmt.Errorf("%w at version %d", ErrDirtyMigration, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationStatus{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	return status(m)
}

// RunMigrations はすべてのマイグレーションを適用する。最新の場合は何もしない。
func RunMigrations(databaseURL string) error {
	_, err := Migrate(databaseURL)
	return err
}

// status は現在の版を返す。未適用の場合はVersion 0。
func status(m *migrate.Migrate) (MigrationStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}
