package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// Options 存储实例选项
type Options struct {
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          *zap.Logger
}

// OptionsFromConfig 由数据库配置生成选项
func OptionsFromConfig(cfg *config.DatabaseConfig, log *zap.Logger) Options {
	return Options{
		AutoMigrate:     cfg.AutoMigrate,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Logger:          log,
	}
}

// Store 基于 GORM 的关系型存储实现，支持 PostgreSQL、MySQL 与 SQLite
type Store struct {
	db      *gorm.DB
	log     *zap.Logger
	onClose func()
}

var _ storage.Store = (*Store)(nil)

// NewStore 使用 pgx 连接池创建 PostgreSQL 存储实例
func NewStore(client *Client, opts Options) (*Store, error) {
	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: client.SQLDB()}), opts)
	if err != nil {
		return nil, err
	}
	store.onClose = client.Close
	return store, nil
}

// NewMySQLStore 创建 MySQL 存储实例，表结构由 cmd/migrate 维护
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	opts.AutoMigrate = false
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewSQLiteStore 创建 SQLite 存储实例，用于本地开发
func NewSQLiteStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(sqlite.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := &Store{db: db, log: log}

	if opts.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.MailItem{},
		&domain.ForwardingRequest{},
		&domain.Charge{},
		&domain.ForwardingOutboxEvent{},
		&domain.AddressSlot{},
		&domain.WebhookLogEntry{},
	)
}

// DB 返回底层 GORM 句柄
func (s *Store) DB() *gorm.DB {
	return s.db
}

// dialect 返回当前方言名称: postgres、mysql、sqlite
func (s *Store) dialect() string {
	return s.db.Dialector.Name()
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// Health 检查数据库连通性
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ========== User Repository ==========

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SaveUser 写入用户只读视图，由账户同步任务与测试使用
func (s *Store) SaveUser(ctx context.Context, user *domain.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

// ========== Webhook Log Repository ==========

// AppendWebhookLog 追加一条入站 Webhook 审计记录
func (s *Store) AppendWebhookLog(ctx context.Context, entry *domain.WebhookLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListWebhookLogs 按时间倒序列出某个外部文件的审计记录
func (s *Store) ListWebhookLogs(ctx context.Context, itemID string, limit int) ([]domain.WebhookLogEntry, error) {
	var entries []domain.WebhookLogEntry
	err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
