package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective configuration",
		Long: `Print the configuration kiwiscand would run with, after defaults and
flag overrides, as YAML. Values outside their documented range are listed
as warnings on stderr and kept.`,
		Args: cobra.NoArgs,
		RunE: runSettings,
	}
	cmd.Flags().Bool("scanner-only", false, "print only the scanner settings")
	return cmd
}

func runSettings(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var data []byte
	if only, _ := cmd.Flags().GetBool("scanner-only"); only {
		data, err = yaml.Marshal(cfg.Scanner)
	} else {
		data, err = cfg.Marshal()
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
