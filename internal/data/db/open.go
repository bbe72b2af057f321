package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// Open connects to the configured driver ("postgres" or "sqlite").
func Open(driver, sqlitePath string, logg *logger.Logger) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql":
		svc, err := NewPostgresService(logg)
		if err != nil {
			return nil, err
		}
		return svc.DB(), nil
	case "sqlite":
		if sqlitePath == "" {
			sqlitePath = "lexicon.db"
		}
		logg.Info("Opening SQLite database", "path", sqlitePath)
		return OpenSQLite(sqlitePath, false)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}
