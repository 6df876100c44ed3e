package startup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatrelay/internal/logger"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
)

// EmbeddedPostgres — локальный Postgres для режима -dev.
type EmbeddedPostgres struct {
	db  *embeddedpostgres.EmbeddedPostgres
	URL string
}

// StartEmbeddedPostgres поднимает Postgres в ./.pgdata на порту port.
func StartEmbeddedPostgres(port uint32) (*EmbeddedPostgres, error) {
	const (
		user     = "relay"
		password = "relay_secret"
		database = "relay"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "relay-embedded-pg")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("embedded postgres start: %w", err)
	}
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return &EmbeddedPostgres{
		db:  db,
		URL: fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database),
	}, nil
}

func (e *EmbeddedPostgres) Stop() {
	logger.Info("stopping embedded postgres...")
	if err := e.db.Stop(); err != nil {
		logger.Errorf("embedded postgres stop: %v", err)
	}
}
