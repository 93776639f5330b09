package database

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"membership_backend/internal/model"
	"membership_backend/pkg/config"
	"membership_backend/pkg/logger"
)

// Open connects to Postgres with the pool limits from cfg. SQL errors and
// slow queries are written through the application logger.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN: cfg.URL,
		// Poolers in transaction mode cannot reuse prepared statements.
		PreferSimpleProtocol: true,
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.New(
			zap.NewStdLog(log.Desugar()),
			gormlogger.Config{
				SlowThreshold:             500 * time.Millisecond,
				LogLevel:                  gormlogger.Error,
				IgnoreRecordNotFoundError: true,
			},
		),
		PrepareStmt:    false,
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.New(pgConfig), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get database instance")
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	log.Infow("database connected", "max_open_conns", cfg.MaxOpenConns)
	return db, nil
}

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&model.User{},
		&model.Address{},
		&model.Phone{},
		&model.Membership{},
		&model.PaymentProfile{},
		&model.Subscription{},
		&model.Penalty{},
		&model.ReconciliationIssue{},
	}
}

func Migrate(db *gorm.DB, log *logger.Logger, models ...any) error {
	for _, m := range models {
		if !db.Migrator().HasTable(m) {
			if err := db.Migrator().CreateTable(m); err != nil {
				return errors.Wrapf(err, "create table for %T", m)
			}
			log.Infof("created table for %T", m)
			continue
		}
		if err := db.Migrator().AutoMigrate(m); err != nil {
			return errors.Wrapf(err, "migrate %T", m)
		}
		log.Debugf("updated table for %T", m)
	}
	return nil
}
