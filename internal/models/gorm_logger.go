package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyrelay/internal/logger"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

// gormLogger 将 GORM 日志接入 zap，只输出错误与慢查询
type gormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	return &gormLogger{level: gormlogger.Warn, slowThreshold: slow}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.Component("gorm").Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.Component("gorm").Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.Component("gorm").Error(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		query, rows := fc()
		logger.Component("gorm").Errorw("db_query_failed", "elapsed_ms", elapsed.Milliseconds(), "rows", rows, "sql", query, "error", err)
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		query, rows := fc()
		logger.Component("gorm").Warnw("db_slow_query", "elapsed_ms", elapsed.Milliseconds(), "rows", rows, "sql", query)
	case l.level >= gormlogger.Info:
		query, rows := fc()
		logger.Component("gorm").Debugw("db_query", "elapsed_ms", elapsed.Milliseconds(), "rows", rows, "sql", query)
	}
}
