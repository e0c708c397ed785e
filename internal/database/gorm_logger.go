package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlLogLimit caps the SQL text carried on a log record. Statements
// longer than this keep their head, where the verb and table live.
const sqlLogLimit = 240

// queryLogger routes GORM's query trace into slog. Successful queries
// land at Debug, failures at Error. ErrRecordNotFound counts as a
// normal empty result, not a failure.
type queryLogger struct{}

var _ logger.Interface = queryLogger{}

// LogMode is a no-op: the active slog level decides what is emitted.
func (queryLogger) LogMode(logger.LogLevel) logger.Interface { return queryLogger{} }

func (queryLogger) Info(_ context.Context, format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func (queryLogger) Warn(_ context.Context, format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...))
}

func (queryLogger) Error(_ context.Context, format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
}

func (queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		sql, rows := fc()
		slog.Error("query failed", "sql", clipSQL(sql), "rows", rows, "elapsed", elapsed, "error", err)
		return
	}
	// Rendering the SQL via fc() is the expensive part; skip it when
	// Debug is off.
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	sql, rows := fc()
	slog.Debug("query", "sql", clipSQL(sql), "rows", rows, "elapsed", elapsed)
}

func clipSQL(sql string) string {
	if len(sql) <= sqlLogLimit {
		return sql
	}
	return fmt.Sprintf("%s… [%d bytes]", sql[:sqlLogLimit], len(sql))
}
