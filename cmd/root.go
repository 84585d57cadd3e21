package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"saltbox/internal/config"
	"saltbox/internal/logger"
	"saltbox/internal/server"
)

var (
	flagPort      int
	flagReplicaOf string
	flagLogLevel  string
)

// rootCmd runs the server.
var rootCmd = &cobra.Command{
	Use:   "saltbox",
	Short: "An in-memory key/value server with master-replica replication",
	Long: `An in-memory key/value server speaking the RESP protocol over TCP.
Runs standalone as a master, or as a replica of an upstream master when
started with --replicaof.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.LogLevel(flagLogLevel))

		cfg := config.New(flagPort, flagReplicaOf)
		srv := server.New(cfg)
		if err := srv.Start(); err != nil {
			logger.Errorf("failed to start server: %v", err)
			os.Exit(1)
		}
		logger.Infof("server listening on %s, role=%s", srv.Addr(), cfg.Role)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down")
		if err := srv.Close(); err != nil {
			logger.Errorf("error closing server: %v", err)
		}
	},
}

// Execute runs the command tree. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().IntVar(&flagPort, "port", 6379, "TCP port to listen on")
	rootCmd.Flags().StringVar(&flagReplicaOf, "replicaof", "", `replicate from "<host> <port>"`)
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error, fatal)")
}
