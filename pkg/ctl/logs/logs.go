// Copyright (c) OpenMMLab. All rights reserved.

package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liokouras/varuna/pkg/ctl/utils"
	"github.com/liokouras/varuna/pkg/losslog"
)

// NewCmdLogs creates a cobra command for tailing the training loss file
func NewCmdLogs() *cobra.Command {
	var maxLines int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail the training loss file",
		Long: `Tail the loss file the training job appends to in the working directory.
Usage:
  varunactl logs [--work-dir <working directory>] [--max-line <maximum lines>] [--json]

Examples:
  varunactl logs --work-dir /home/varuna/Megatron-LM --max-line 30`,
		Run: func(cmd *cobra.Command, args []string) {
			workDir, _ := cmd.Flags().GetString("work-dir")
			if workDir == "" {
				workDir = viper.GetString("fleet.work_dir")
				if workDir != "" {
					fmt.Printf("Using working directory specified in configuration file: %s\n", workDir)
				} else {
					fmt.Println("No working directory specified, using default value /home/varuna/Megatron-LM")
					workDir = "/home/varuna/Megatron-LM"
				}
			} else {
				fmt.Printf("Using working directory specified on command line: %s\n", workDir)
			}

			if maxLines == 0 {
				maxLines = viper.GetInt("max-line")
				if maxLines != 0 {
					fmt.Printf("Using maximum log lines specified in configuration file: %d\n", maxLines)
				} else {
					fmt.Println("No maximum log lines specified, using default value 30")
					maxLines = 30
				}
			} else {
				fmt.Printf("Using maximum log lines specified on command line: %d\n", maxLines)
			}

			lossFile := viper.GetString("job.loss_file")
			if lossFile == "" {
				lossFile = "varuna_loss.log"
			}

			if err := TailLossFile(filepath.Join(workDir, lossFile), maxLines, jsonOut); err != nil {
				fmt.Printf("Failed to read loss file: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntVar(&maxLines, "max-line", 0, "Specify maximum log lines")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print parsed loss entries as JSON")

	return cmd
}

// TailLossFile prints the last maxLines lines of the loss file followed by a
// one line summary of the newest parsed iteration. With jsonOut the parsed
// entries are printed as JSON instead of the raw lines.
func TailLossFile(path string, maxLines int, jsonOut bool) error {
	lines, modTime, err := losslog.TailFile(path, maxLines)
	if err != nil {
		return err
	}

	// Clean invalid UTF-8 strings
	for i := range lines {
		lines[i] = utils.CleanUTF8(lines[i])
	}

	entries, err := losslog.ParseWithType(context.Background(), &losslog.LossParser{}, lines)
	if err != nil {
		return err
	}

	if jsonOut {
		jsonData, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to convert entries to JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	for _, line := range lines {
		fmt.Println(line)
	}

	if latest, ok := losslog.Latest(entries); ok {
		age := time.Since(modTime).Round(time.Second)
		fmt.Printf("Latest iteration %d, lm loss %g (file updated %s ago)\n",
			latest.Iteration, latest.Loss, age)
	} else {
		fmt.Println("No parsable loss entries in the tail window")
	}

	return nil
}
