// meshgate bridges a packet-radio mesh to external services.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"meshgate/internal/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meshgate",
	Short: "meshgate bridges a packet-radio mesh to external services.",
	Long: `meshgate answers direct-message commands, runs scheduled broadcast jobs
(beacons, weather reports) and records which mesh nodes have been seen.`,
	RunE:          runGateway,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway (default)",
	RunE:  runGateway,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.yml", "path to config file (.yml or .json)")
	rootCmd.AddCommand(runCmd, nodesCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.New(configPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var reason app.StopReason
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
