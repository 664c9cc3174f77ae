package database

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Migrations holds the postgres schema migrations.
//
//go:embed migrations/*.up.sql
var Migrations embed.FS

// RunMigrations runs all *.up.sql files under migrations/ in fsys, in
// lexical order, skipping versions already recorded.
func RunMigrations(db *gorm.DB, fsys fs.FS) error {
	files, err := fs.Glob(fsys, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("failed to glob migration files: %w", err)
	}
	sort.Strings(files)

	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, file := range files {
		if err := runMigration(db, fsys, file); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", file, err)
		}
	}

	return nil
}

func createMigrationsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id SERIAL PRIMARY KEY,
		version VARCHAR(255) NOT NULL UNIQUE,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`
	return db.Exec(sql).Error
}

func runMigration(db *gorm.DB, fsys fs.FS, file string) error {
	version := strings.TrimSuffix(path.Base(file), ".up.sql")

	var count int64
	if err := db.Table("schema_migrations").Where("version = ?", version).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check migration state: %w", err)
	}
	if count > 0 {
		return nil
	}

	content, err := fs.ReadFile(fsys, file)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	for _, statement := range parseSQLStatements(string(content)) {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}

		if err := db.Exec(statement).Error; err != nil {
			// Tables created by an earlier AutoMigrate are fine.
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	if err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version).Error; err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return nil
}

// MigrationStatus is one applied migration.
type MigrationStatus struct {
	Version   string `json:"version"`
	AppliedAt string `json:"applied_at"`
}

// GetMigrationStatus lists applied migrations, oldest first.
func GetMigrationStatus(db *gorm.DB) ([]MigrationStatus, error) {
	var migrations []MigrationStatus
	err := db.Table("schema_migrations").
		Select("version, applied_at").
		Order("applied_at ASC").
		Find(&migrations).Error
	return migrations, err
}

// parseSQLStatements drops comment lines and splits the rest into
// statements terminated by a semicolon at the end of a line. Migrations
// must not contain dollar-quoted bodies.
func parseSQLStatements(content string) []string {
	var statements []string
	var lines []string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.Join(lines, "\n"))
			lines = lines[:0]
		}
	}
	if len(lines) > 0 {
		statements = append(statements, strings.Join(lines, "\n"))
	}

	return statements
}
