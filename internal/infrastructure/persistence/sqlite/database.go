// Package sqlite реализует встроенный режим хранения на gorm и чистом Go SQLite.
// Подходит для одного процесса: блокировки пользователей остаются в памяти.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryPath открывает базу в памяти (используется в тестах).
const MemoryPath = ":memory:"

// Database - соединение gorm с применённой схемой.
type Database struct {
	DB *gorm.DB
}

// Open открывает базу по пути, настраивает SQLite и применяет схему.
func Open(path string) (*Database, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: не удалось создать каталог данных: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: не удалось открыть базу: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	// Каждое соединение к :memory: видит свою базу, поэтому соединение одно.
	if path == MemoryPath {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := configure(db, path); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Database{DB: db}, nil
}

func configure(db *gorm.DB, path string) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if path != MemoryPath {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		)
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&projectModel{},
		&subjectModel{},
		&skillModel{},
		&dependencyModel{},
		&badgeModel{},
		&badgeSkillModel{},
		&badgeLevelModel{},
		&pointEventModel{},
		&selfReportModel{},
	); err != nil {
		return fmt.Errorf("sqlite: миграция не удалась: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping проверяет соединение (для /health).
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
