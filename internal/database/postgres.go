package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/charlesng35/shopkv/internal/dbconfig"
)

func openPostgres(cfg *dbconfig.ConnectionConfig, opts PoolOptions) (*gorm.DB, error) {
	dsn, err := cfg.DSN(opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}
