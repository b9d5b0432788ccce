// Copyright (c) OpenMMLab. All rights reserved.

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liokouras/varuna/pkg/ctl/utils"
	"github.com/liokouras/varuna/pkg/remote"
	"github.com/liokouras/varuna/pkg/state"
)

// HostStatus is one machine's parsed control-plane record, or the reason it
// could not be read.
type HostStatus struct {
	Host    string
	State   state.JobState
	Version int
	PID     int
	Servers int
	Updated int64
	Stale   bool
	Err     error
}

func NewCmdStatus() *cobra.Command {
	var parallel int
	var retries int
	var pollInterval int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the training state of every machine",
		Long: `Report the control-plane training state of every machine in the fleet.
Usage:
  varunactl status -m <machine list file> [-w <work directory>] [--interval <minutes>]

Examples:
  varunactl status -m available_machines.out -w /home/varuna/Megatron-LM
  varunactl status --interval 5`,
		Run: func(cmd *cobra.Command, args []string) {
			machineList, _ := cmd.Flags().GetString("machine-list")
			if machineList == "" {
				machineList = viper.GetString("fleet.machine_list")
				if machineList != "" {
					fmt.Printf("Using machine list specified in configuration file: %s\n", machineList)
				} else {
					fmt.Println("No machine list specified, using default value available_machines.out")
					machineList = "available_machines.out"
				}
			} else {
				fmt.Printf("Using machine list specified on command line: %s\n", machineList)
			}

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

			machines, err := utils.ReadMachineListFromFile(machineList)
			if err != nil {
				fmt.Printf("Failed to read machine list file: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Obtained machines: %v\n", machines)

			if parallel == 0 {
				parallel = viper.GetInt("fleet.parallel")
				if parallel == 0 {
					parallel = 1
				}
			}
			if retries == 0 {
				retries = viper.GetInt("fleet.retries")
			}

			staleAfter := viper.GetDuration("fleet.stale_after")
			if staleAfter == 0 {
				staleAfter = 15 * time.Minute
			}

			runner := remote.NewSSHRunner(
				viper.GetString("fleet.ssh_user"),
				viper.GetInt("fleet.ssh_port"),
				viper.GetInt("fleet.connect_timeout"),
			)
			opts := remote.Options{Parallel: parallel, Retries: retries}

			if pollInterval < 0 {
				fmt.Println("Please enter an appropriate time interval (minutes)")
				return
			}

			runSweep := func() {
				statuses := CollectStatus(runner, machines, workDir, staleAfter, opts)
				PrintStatus(statuses)
			}

			if pollInterval == 0 {
				runSweep()
				return
			}

			pollDuration := time.Duration(pollInterval) * time.Minute
			fmt.Printf("Polling fleet status every %v...\n", pollDuration)
			fmt.Println("Press Ctrl+C to stop")

			runSweep()

			ticker := time.NewTicker(pollDuration)
			defer ticker.Stop()

			for range ticker.C {
				runSweep()
			}
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "Number of machines queried at once")
	cmd.Flags().IntVar(&retries, "retries", 0, "Extra attempts per machine after a failure")
	cmd.Flags().IntVarP(&pollInterval, "interval", "i", 0, "Automatic execution interval (minutes), 0 means execute only once")

	return cmd
}

// CollectStatus reads the control-plane record of every machine. A machine
// with no readable record reports unknown plus the underlying error; legacy
// pid and server-count files are deliberately not probed.
func CollectStatus(runner remote.Runner, machines []string, workDir string, staleAfter time.Duration, opts remote.Options) []HostStatus {
	command := fmt.Sprintf("cat %s/%s", workDir, state.RecordFile)
	results := remote.RunFleet(context.Background(), runner, machines, command, opts)

	now := time.Now()
	statuses := make([]HostStatus, len(results))
	for i, res := range results {
		statuses[i] = HostStatus{Host: res.Host, State: state.StateUnknown}
		if res.Err != nil {
			statuses[i].Err = res.Err
			continue
		}

		var rec state.Record
		if err := json.Unmarshal([]byte(res.Output), &rec); err != nil {
			statuses[i].Err = fmt.Errorf("invalid state record: %w", err)
			continue
		}
		if err := rec.Validate(); err != nil {
			statuses[i].Err = fmt.Errorf("invalid state record: %w", err)
			continue
		}

		statuses[i].State = rec.State
		statuses[i].Version = rec.Version
		statuses[i].PID = rec.PID
		statuses[i].Servers = rec.Servers
		statuses[i].Updated = rec.UpdatedAtMs
		statuses[i].Stale = rec.StaleAt(now, staleAfter)
		statuses[i].Err = nil
	}

	return statuses
}

// PrintStatus writes the per-machine report in machine list order.
func PrintStatus(statuses []HostStatus) {
	fmt.Printf("Fleet status at %s:\n", time.Now().Format("2006-01-02 15:04:05"))

	counts := map[state.JobState]int{}
	for i, st := range statuses {
		counts[st.State]++
		if st.Err != nil {
			fmt.Printf("%d. %s: unknown (%v)\n", i+1, st.Host, st.Err)
			continue
		}
		line := fmt.Sprintf("%d. %s: %s (version %d, pid %d, servers %d, updated %s)",
			i+1, st.Host, st.State, st.Version, st.PID, st.Servers, utils.FormatTimestamp(st.Updated))
		if st.Stale {
			line += " [STALE]"
		}
		fmt.Println(line)
	}

	fmt.Printf("Summary: %d running, %d draining, %d stopped, %d unknown\n",
		counts[state.StateRunning], counts[state.StateDraining],
		counts[state.StateStopped], counts[state.StateUnknown])
}
