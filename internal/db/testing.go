package db

import (
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

var memSeq atomic.Int64

// OpenMemory opens a private in-memory sqlite database with every model migrated.
// The pool is pinned to one connection so the database lives as long as the handle.
func OpenMemory() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:crm_mem_%d?mode=memory&cache=shared&_foreign_keys=1", memSeq.Add(1))
	conn, err := Open(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := MigrateDB(conn, models.All()...); err != nil {
		return nil, err
	}
	return conn, nil
}
