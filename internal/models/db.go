package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyrelay/internal/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB 全局数据库连接
var DB *gorm.DB

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	connectTimeout = 5 * time.Second
)

// DBOptions 数据库连接参数
type DBOptions struct {
	Driver        string
	DSN           string
	SlowThreshold time.Duration
	Pool          config.DatabasePoolConfig
}

// OptionsFromConfig 从配置构造连接参数
func OptionsFromConfig(cfg config.DatabaseConfig) DBOptions {
	return DBOptions{
		Driver:        cfg.Driver,
		DSN:           cfg.DSN,
		SlowThreshold: time.Duration(cfg.SlowQueryMs) * time.Millisecond,
		Pool:          cfg.Pool,
	}
}

// InitDB 打开数据库并设置全局连接
func InitDB(ctx context.Context, opts DBOptions) error {
	db, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open 打开数据库，应用连接池并在限定时间内完成一次 Ping
func Open(ctx context.Context, opts DBOptions) (*gorm.DB, error) {
	driver := normalizedDriver(opts.Driver)
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is empty", driver)
	}
	var dialector gorm.Dialector
	switch driver {
	case driverSQLite:
		dialector = sqlite.Open(withSQLitePragmas(dsn))
	case driverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(opts.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	applyDBPool(sqlDB, driver, opts.Pool)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Ping 检查全局连接可用
func Ping(ctx context.Context) error {
	if DB == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func normalizedDriver(driver string) string {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	switch normalized {
	case "", driverSQLite, "sqlite3":
		return driverSQLite
	case driverPostgres, "postgresql", "pg":
		return driverPostgres
	default:
		return normalized
	}
}

// withSQLitePragmas 文件库默认开启 WAL 与 busy_timeout，已显式指定的 pragma 不覆盖
func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	pragmas := []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"}
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, pragma := range pragmas {
		name := pragma[:strings.Index(pragma, "(")]
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(pragma)
		sep = "&"
	}
	return b.String()
}

// applyDBPool SQLite 单写者，未配置时限制为一个连接
func applyDBPool(sqlDB *sql.DB, driver string, pool config.DatabasePoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 && driver == driverSQLite {
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if pool.MaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetimeSeconds > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeSeconds) * time.Second)
	}
	if pool.ConnMaxIdleTimeSeconds > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTimeSeconds) * time.Second)
	}
}

// AutoMigrate 迁移全局连接上的全部表
func AutoMigrate() error {
	if DB == nil {
		return errors.New("database not initialized")
	}
	return Migrate(DB)
}

// Migrate 迁移指定连接上的全部表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Admin{},
		&LicenseKey{},
		&AutomationLedgerEntry{},
		&Order{},
		&OrderItem{},
		&Account{},
		&OrderNote{},
		&Setting{},
	)
}
