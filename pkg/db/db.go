package db

import (
	"github.com/caseway/caseway/internal/models"
	"github.com/caseway/caseway/pkg/env"
	_ "github.com/jackc/pgx/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Connection opens the database configured by the environment.
// The default is an embedded sqlite file; postgres is available
// for deployments that already run one.
func Connection(vars env.Environment) (*gorm.DB, error) {
	switch vars.DatabaseType {
	case "postgres":
		return gorm.Open(postgres.Open(vars.DatabaseDSN), &gorm.Config{})
	case "sqlite":
		fallthrough
	default:
		return gorm.Open(sqlite.Open(vars.DBPath), &gorm.Config{})
	}
}

// Migrate applies the schema for all caseway models.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(models.All...)
}
