package database

import "gorm.io/gorm"

// DB is the process-wide GORM handle, initialized once by SetupDatabase.
var DB *gorm.DB

// GetDB returns the global database handle.
func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the global handle. Intended for tests.
func SetDB(db *gorm.DB) {
	DB = db
}
