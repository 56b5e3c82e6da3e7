package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/towerd/internal/app"
	"github.com/dokzlo13/towerd/internal/settings"
)

// settingsCmd prints the persisted auto-mute settings
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the persisted auto-mute settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dev, database, err := app.OpenNVRAM(cfg)
		if err != nil {
			return err
		}
		if database != nil {
			defer database.Close()
		}

		values, valid, err := settings.Peek(dev)
		if err != nil {
			return err
		}
		if !valid {
			values = settings.Defaults()
		}

		out, err := json.MarshalIndent(struct {
			settings.Values
			Initialized bool `json:"initialized"`
		}{Values: values, Initialized: valid}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// settingsResetCmd clears the validity marker
var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default settings on the next start",
	Long:  `Clears the settings marker so the controller writes the default threshold and hysteresis when it next initializes.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dev, database, err := app.OpenNVRAM(cfg)
		if err != nil {
			return err
		}
		if database != nil {
			defer database.Close()
		}

		if err := settings.NewStore(dev).Invalidate(); err != nil {
			return err
		}
		log.Info().Str("device", dev.Name()).Msg("Settings marker cleared")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsResetCmd)
}
