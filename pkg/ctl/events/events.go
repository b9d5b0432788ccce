// Copyright (c) OpenMMLab. All rights reserved.

package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liokouras/varuna/pkg/ctl/utils"
	"github.com/liokouras/varuna/pkg/eventlog"
)

// NewCmdEvents creates a cobra command for querying the local event history
func NewCmdEvents() *cobra.Command {
	var (
		eventType   string
		source      string
		runID       string
		since       string
		minSeverity int32
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query recorded job events",
		Long: `Query the lifecycle and alert events recorded under the working directory.
Usage:
  varunactl events [--work-dir <working directory>] [--type <event type>] [--source <source>] [--since <duration>] [--min-severity <level>] [--json]

Examples:
  varunactl events --work-dir /home/varuna/Megatron-LM --type lifecycle --since 24h`,
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

			jobID, _ := cmd.Flags().GetString("job-id")
			if jobID == "" {
				jobID = viper.GetString("job-id")
			}

			filter := eventlog.Filter{
				Type:        eventType,
				Source:      source,
				JobID:       jobID,
				RunID:       runID,
				MinSeverity: minSeverity,
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					fmt.Printf("Invalid --since duration: %v\n", err)
					os.Exit(1)
				}
				filter.StartTime = time.Now().Add(-d).UnixMilli()
			}

			log, err := eventlog.Open(filepath.Join(workDir, "events"))
			if err != nil {
				fmt.Printf("Failed to open event history: %v\n", err)
				os.Exit(1)
			}

			loaded, err := log.Load(filter)
			if err != nil {
				fmt.Printf("Failed to load events: %v\n", err)
				os.Exit(1)
			}

			if jsonOut {
				jsonData, err := json.MarshalIndent(loaded, "", "  ")
				if err != nil {
					fmt.Printf("Failed to convert to JSON: %v\n", err)
					os.Exit(1)
				}
				fmt.Println(string(jsonData))
				return
			}

			PrintEvents(loaded)
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (lifecycle or alert)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by event source")
	cmd.Flags().StringVar(&runID, "run-id", "", "Filter by run id")
	cmd.Flags().StringVar(&since, "since", "", "Only show events newer than this duration, e.g. 24h")
	cmd.Flags().Int32Var(&minSeverity, "min-severity", 0, "Filter by minimum severity")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print events as JSON")

	return cmd
}

// PrintEvents writes one line per event in the order Load returned them,
// newest first, with a closing count.
func PrintEvents(loaded []eventlog.Event) {
	if len(loaded) == 0 {
		fmt.Println("No events matched")
		return
	}

	for _, ev := range loaded {
		line := fmt.Sprintf("%s  %-9s %-8s rank %d  %s",
			utils.FormatTimestamp(ev.Timestamp), ev.Type, ev.Source, ev.NodeRank, ev.Message)
		if ev.Severity > 0 {
			line += fmt.Sprintf(" (severity %d)", ev.Severity)
		}
		fmt.Println(line)
	}
	fmt.Printf("Loaded %d events\n", len(loaded))
}
