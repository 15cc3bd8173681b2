package main

import (
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/db"
	"sitepulse/internal/logger"
)

// app carries what every subcommand needs. The database is opened on first use
// so commands that only talk HTTP never touch it.
type app struct {
	cfg *config.Config
	log logger.Logger
	db  *gorm.DB
}

func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	gdb, err := db.Connect(a.cfg)
	if err != nil {
		return nil, err
	}
	a.db = gdb
	return gdb, nil
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Load()}

	var (
		databaseURL string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:           "sitepulsectl",
		Short:         "Operate a sitepulse installation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL != "" {
				a.cfg.DatabaseURL = databaseURL
			}
			level := a.cfg.LogLevel
			if debug {
				level = "debug"
			}
			log, err := logger.New(logger.Config{
				Level:       level,
				Development: true,
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&databaseURL, "database", "", "database URL (default $APP_DATABASE_URL)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newProjectCmd(a),
		newAnalyzeCmd(a),
		newSimulateCmd(a),
		newLoadCmd(a),
	)
	return cmd
}
