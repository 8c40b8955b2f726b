package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voltbay/powerbank/app"
	"github.com/voltbay/powerbank/config"
	"github.com/voltbay/powerbank/infra/logger"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the field controller for one charging bay",
	RunE:  runController,
}

func init() {
	rootCmd.AddCommand(controllerCmd)
}

func runController(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.NewControllerService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
