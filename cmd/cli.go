package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"saltbox/internal/cli"
)

var (
	cliHost    string
	cliPort    int
	cliTimeout time.Duration
)

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Interactive client",
	Long:  `Connects to a running server and offers an interactive prompt.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cli.Run(cli.Config{Host: cliHost, Port: cliPort, Timeout: cliTimeout})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	cliCmd.Flags().StringVar(&cliHost, "host", "127.0.0.1", "server host")
	cliCmd.Flags().IntVar(&cliPort, "port", 6379, "server port")
	cliCmd.Flags().DurationVar(&cliTimeout, "timeout", 5*time.Second, "connect timeout")
	rootCmd.AddCommand(cliCmd)
}
