// Package database owns the process-local SQLite instance backing the
// activity log. It is opened once during boot and accessed through the
// package-level Instance handle everywhere else.
package database

import (
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/internal/models"
	"github.com/reynalivan/emm-core/system"
)

var (
	o  system.AtomicBool
	db *gorm.DB
)

// Initialize configures the local SQLite database for the engine and ensures
// that the models have been fully migrated.
func Initialize() error {
	if !o.SwapIf(true) {
		panic("database: attempt to initialize more than once during application lifecycle")
	}
	p := config.Get().System.GetActivityDatabasePath()
	log.WithField("subsystem", "database").WithField("dsn", p).Debug("initializing local database")
	instance, err := gorm.Open(sqlite.Open(p), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return errors.Wrap(err, "database: could not open database file")
	}
	db = instance

	if sql, err := instance.DB(); err != nil {
		return errors.WithStack(err)
	} else {
		sql.SetMaxOpenConns(1)
		sql.SetConnMaxLifetime(time.Hour)
	}

	if tx := instance.Exec("PRAGMA synchronous = OFF"); tx.Error != nil {
		return errors.WithStack(tx.Error)
	}
	if tx := instance.Exec("PRAGMA journal_mode = MEMORY"); tx.Error != nil {
		return errors.WithStack(tx.Error)
	}

	if err := instance.AutoMigrate(&models.Activity{}); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Instance returns the gorm database instance that was configured when the
// application was booted.
func Instance() *gorm.DB {
	if db == nil {
		panic("database: attempt to access instance before initialized")
	}
	return db
}
