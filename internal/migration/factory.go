package migration

import (
	"fmt"

	"github.com/OperatorNext/OperatorNext/config"
)

// NewMigratorFromConfig 从应用数据库配置创建迁移器
func NewMigratorFromConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	sslMode := dbCfg.SSLMode
	if dbType != DatabaseTypePostgres {
		sslMode = ""
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, sslMode),
		TableName:    DefaultTable,
	})
}
