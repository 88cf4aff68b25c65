package db

import (
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open opens the ledger database at dbPath and applies any pending schema
// migrations. SQL warnings are routed to log.
func Open(dbPath string, log *zap.SugaredLogger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	// Configure GORM logger
	newLogger := gormlogger.New(
		zap.NewStdLog(log.Desugar()),
		gormlogger.Config{
			SlowThreshold:             time.Second,     // Slow SQL threshold
			LogLevel:                  gormlogger.Warn, // Log level (Warn, Error, Info)
			IgnoreRecordNotFoundError: true,            // Ignore ErrRecordNotFound error
			ParameterizedQueries:      true,            // Keep URLs out of the log
			Colorful:                  false,
		},
	)

	dsn := "file:" + filepath.ToSlash(dbPath) + "?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
	gdb, err := gorm.Open(gormlite.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps download daemons
	// from tripping over each other's short transactions.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(gdb, log); err != nil {
		return nil, err
	}
	return gdb, nil
}

// InitDatabase initializes the global ledger connection.
func InitDatabase(dbPath string, log *zap.SugaredLogger) {
	var err error
	DB, err = Open(dbPath, log)
	if err != nil {
		log.Fatalw("failed to open ledger database", zap.String("path", dbPath), zap.Error(err))
	}
}
