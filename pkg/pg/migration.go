package pg

import (
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate applies goose migrations from dir. command is one of up, down,
// status or redo.
func Migrate(cfg Config, dir, command string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("running migrations", "dir", dir, "command", command)
	switch command {
	case "", "up":
		return goose.Up(db, dir)
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	case "redo":
		return goose.Redo(db, dir)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}
