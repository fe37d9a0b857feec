package confessional

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
	}
	dbOperationTimeout = 10 * time.Second
)

// ModelUintID is an embeddable model with an auto-incrementing ID
type ModelUintID struct {
	ID uint `gorm:"primarykey" json:"id"`
}

// ModelUnixTime is an embeddable model with a creation timestamp,
// stored in milliseconds
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

// Report records a user reporting an anonymous post to moderators.
// The post's author is never stored here.
type Report struct {
	ModelUintID
	ModelUnixTime

	GuildID    string `json:"guild_id"`
	ChannelID  string `json:"channel_id"`
	MessageID  string `json:"message_id" gorm:"index"`
	ReporterID string `json:"reporter_id" gorm:"index"`
	Link       string `json:"link"`

	// LogMessageID is the ID of the message sent to the mod log channel
	LogMessageID string `json:"log_message_id"`
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(r.ID)),
		slog.String("message_id", r.MessageID),
		slog.String("reporter_id", r.ReporterID),
		slog.String("link", r.Link),
	)
}

// ReportLog writes and reads [Report] records
type ReportLog struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Record inserts the given report, setting its ID
func (r *ReportLog) Record(ctx context.Context, report *Report) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		r.logger.ErrorContext(ctx, "error recording report", tint.Err(err), "report", report)
		return fmt.Errorf("error recording report: %w", err)
	}
	r.logger.InfoContext(ctx, "recorded report", "report", report)
	return nil
}

// ForMessage returns all reports of the given message, oldest first
func (r *ReportLog) ForMessage(ctx context.Context, messageID string) ([]Report, error) {
	var reports []Report
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id asc").
		Find(&reports).Error
	return reports, err
}

// Count returns the total number of reports recorded
func (r *ReportLog) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Report{}).Count(&n).Error
	return n, err
}

// Close closes the underlying database connection
func (r *ReportLog) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDB opens the database, applies connection settings and
// migrates the schema
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if databaseType == dbTypeSQLite {
		sqlDB, e := db.DB()
		if e != nil {
			return nil, fmt.Errorf("error getting database connection: %w", e)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(&Report{}); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, err
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// InitStorage prepares everything the bot writes to disk: it migrates
// the report database (if one is configured) and creates the avatar
// cache directory.
func InitStorage(ctx context.Context, config *Config) error {
	var errs []error
	if config.Database != "" {
		gormLogger := newGORMLogger(
			newLogHandler(defaultLogWriter, config.DatabaseLogLevel),
			config.DatabaseSlowThreshold,
		)
		db, err := CreateDB(ctx, config.DatabaseType, config.Database, gormLogger)
		if err != nil {
			errs = append(errs, err)
		} else {
			reports := &ReportLog{db: db, logger: slog.Default()}
			errs = append(errs, reports.Close())
		}
	}
	if config.Avatar != nil && config.Avatar.Dir != "" {
		if err := os.MkdirAll(config.Avatar.Dir, 0o750); err != nil {
			errs = append(errs, fmt.Errorf("error creating avatar directory: %w", err))
		}
	}
	return errors.Join(errs...)
}
