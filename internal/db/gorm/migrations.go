// Package gorm provides GORM-based database operations for caselink.
package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Core tables (Record, Case, Membership)
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes from struct
				// tags, including the unique (case_id, record_id) pair and
				// the unique record_id single-ownership index.
				if err := tx.AutoMigrate(&Record{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Case{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Membership{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("memberships", "cases", "records")
			},
		},

		// Migration 002: Covering index for the persisted similarity scan.
		// Queries read every row with a non-null vector; the status filter
		// keeps unprocessed records out of the scan.
		{
			ID: "002_vector_scan_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					`CREATE INDEX IF NOT EXISTS idx_records_vectorized ON records (status) WHERE vector IS NOT NULL`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_records_vectorized`).Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
