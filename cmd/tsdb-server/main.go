package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bobboyms/tsdb/pkg/server"
	"github.com/bobboyms/tsdb/pkg/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tsdb-server",
		Short:        "Networked time-series database server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	flags := cmd.Flags()
	flags.Int("ts_length", 100, "fixed length of every stored time series")
	flags.String("db_name", "default", "database name")
	flags.String("data_dir", "db_files", "directory holding database files")
	flags.Int("port", server.DefaultPort, "TCP listen port")
	flags.Bool("verbose", false, "enable debug logging")

	viper.SetEnvPrefix("TSDB")
	viper.AutomaticEnv()
	viper.BindPFlags(flags)

	return cmd
}

func run() error {
	logger, err := buildLogger(viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := storage.Open(storage.Options{
		TSLength: viper.GetInt("ts_length"),
		DBName:   viper.GetString("db_name"),
		DataDir:  viper.GetString("data_dir"),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(db, fmt.Sprintf(":%d", viper.GetInt("port")), logger)
	if err := srv.Run(ctx); err != nil {
		db.Close()
		return err
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
