package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltbay/powerbank/config"
	"github.com/voltbay/powerbank/core/model"
	"github.com/voltbay/powerbank/infra/logger"
	"github.com/voltbay/powerbank/infra/mqtt"
)

var (
	chargeDevice  string
	chargeMinutes int
	chargeEvent   string
)

var chargeCmd = &cobra.Command{
	Use:   "charge",
	Short: "Inject a test charge command",
	RunE:  injectCharge,
}

func init() {
	chargeCmd.Flags().StringVar(&chargeDevice, "device", "bay-1", "target device id")
	chargeCmd.Flags().IntVar(&chargeMinutes, "minutes", 1, "authorized duration in minutes")
	chargeCmd.Flags().StringVar(&chargeEvent, "event", "", "provider event id, random when empty")
	rootCmd.AddCommand(chargeCmd)
}

func injectCharge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New("charge-command")
	ch, err := mqtt.NewPahoChannel(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt channel: %w", err)
	}
	defer ch.Disconnect()

	event := chargeEvent
	if event == "" {
		event = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}
	charge := model.ChargeCommand{
		Kind:            model.CommandStartCharge,
		SessionID:       model.SessionID(event),
		DeviceID:        chargeDevice,
		DurationMinutes: chargeMinutes,
		IssuedAt:        time.Now(),
	}
	if err := ch.Publish(charge); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	logg.Infof("sent command for session %s to %s (%d minutes)", charge.SessionID, chargeDevice, chargeMinutes)
	return nil
}
