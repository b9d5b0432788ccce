// Copyright (c) OpenMMLab. All rights reserved.

package ctl

import (
	"fmt"

	"github.com/liokouras/varuna/pkg/ctl/events"
	"github.com/liokouras/varuna/pkg/ctl/logs"
	"github.com/liokouras/varuna/pkg/ctl/status"
	"github.com/liokouras/varuna/pkg/ctl/stop"
	"github.com/liokouras/varuna/pkg/ctl/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// readConfig reads parameters from the configuration file
func readConfig(configPath string) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		fmt.Println("Note: User did not specify configuration file path, defaulting to varuna.yaml in this directory")
		viper.SetConfigName("varuna")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	err := viper.ReadInConfig()
	if err != nil {
		fmt.Printf("Error reading configuration file: Using default values or user-specified values\n")
	}
}

func NewVarunactlCommand() *cobra.Command {
	// Read configuration file
	var configPath string

	// Create root command
	cmds := &cobra.Command{
		Use:   "varunactl",
		Short: "Command line tool",
		Long: `This is a fleet control tool for elastic training jobs.
Usage:
  varunactl [subcommand] [parameters]

Example:
  varunactl stop --machine-list available_machines.out --work-dir /home/varuna/Megatron-LM`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			readConfig(configPath)
		},
	}

	// Disable auto-completion command
	cmds.CompletionOptions.DisableDefaultCmd = true

	// Add global flags
	cmds.PersistentFlags().StringP("job-id", "j", "", "Specify job name")
	cmds.PersistentFlags().StringP("machine-list", "m", "", "Specify the path to the machine list file")
	cmds.PersistentFlags().StringP("work-dir", "w", "", "Specify working directory")
	cmds.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Specify the path to the configuration file")

	// Add subcommands directly to the root command
	cmds.AddCommand(
		stop.NewCmdStop(),
		status.NewCmdStatus(),
		logs.NewCmdLogs(),
		events.NewCmdEvents(),
		version.NewCmdVersion(),
	)

	return cmds
}
