// Package migrations 計分庫的資料表遷移，SQL 檔案嵌入在執行檔中
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var sqlFiles embed.FS

// Migrator 包裝 golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	logger  *slog.Logger
}

// New databaseURL 必須是 postgres:// URL 格式
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(sqlFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up 套用所有尚未執行的遷移
//
// 上次中斷留下 dirty 狀態時，先強制回到該版本再重跑。
func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if dirty {
		m.logger.Warn("計分庫遷移處於 dirty 狀態，強制回到目前版本", "version", version)
		if err := m.migrate.Force(int(version)); err != nil { // #nosec G115 - 遷移版本號很小
			return fmt.Errorf("force version %d: %w", version, err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Debug("計分庫結構已是最新")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	newVersion, _, _ := m.migrate.Version()
	m.logger.Info("計分庫遷移完成", "version", newVersion)
	return nil
}

// Down 回滾所有遷移（測試清理用）
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

// Version 目前版本與是否 dirty
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close 釋放來源與資料庫連線
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}
