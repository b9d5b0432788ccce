// Copyright (c) OpenMMLab. All rights reserved.

package stop

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liokouras/varuna/pkg/ctl/utils"
	"github.com/liokouras/varuna/pkg/metrics"
	"github.com/liokouras/varuna/pkg/notify"
	"github.com/liokouras/varuna/pkg/remote"
	"github.com/liokouras/varuna/pkg/state"
)

// SIGUSR1: the external launcher's checkpoint-and-stop trigger.
const drainSignal = 10

// DrainCommand is the remote shell line that zeroes the server count and
// signals the training launcher to checkpoint and stop.
func DrainCommand(workDir string) string {
	return fmt.Sprintf("cd %s && echo 0 > %s && kill -%d $(cat %s)",
		workDir, state.ServerCountFile, drainSignal, state.ParentPIDFile)
}

func NewCmdStop() *cobra.Command {
	var parallel int
	var retries int

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal every machine to checkpoint and stop training",
		Long: `Signal every machine in the fleet to checkpoint and stop training.
Usage:
  varunactl stop -m <machine list file> [-w <work directory>] [--parallel <n>] [--retries <k>]

Examples:
  varunactl stop -m available_machines.out -w /home/varuna/Megatron-LM
  varunactl stop --parallel 8 --retries 1`,
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

			runner := remote.NewSSHRunner(
				viper.GetString("fleet.ssh_user"),
				viper.GetInt("fleet.ssh_port"),
				viper.GetInt("fleet.connect_timeout"),
			)

			results := StopJobs(runner, machines, workDir, remote.Options{
				Parallel: parallel,
				Retries:  retries,
			})

			if webhook := viper.GetString("fleet.notify_webhook"); webhook != "" {
				jobName := viper.GetString("job-id")
				if err := notify.SendStopReport(webhook, jobName, results); err != nil {
					fmt.Printf("Failed to send stop report: %v\n", err)
				} else {
					fmt.Println("Stop report sent to webhook")
				}
			}

			if gateway := viper.GetString("monitor.push_gateway"); gateway != "" {
				succeeded := 0
				for _, res := range results {
					if res.OK() {
						succeeded++
					}
				}
				if err := metrics.PushStopSweep(gateway, len(results), succeeded, len(results)-succeeded); err != nil {
					fmt.Printf("Failed to push stop sweep metrics: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "Number of machines stopped at once, 1 means strictly in file order")
	cmd.Flags().IntVar(&retries, "retries", 0, "Extra attempts per machine after a failure")

	return cmd
}

// StopJobs runs the drain command on every machine and prints the per-machine
// report. Failed machines never stop the sweep; the outcome of each one is in
// the returned slice, in machine list order.
func StopJobs(runner remote.Runner, machines []string, workDir string, opts remote.Options) []remote.Result {
	fmt.Println("triggering stop signal")

	results := remote.RunFleet(context.Background(), runner, machines, DrainCommand(workDir), opts)

	var errors []string
	for i, res := range results {
		if res.OK() {
			fmt.Printf("%d. %s: stopped (attempts %d, %s)\n",
				i+1, res.Host, res.Attempts, res.Duration.Round(time.Millisecond))
		} else {
			fmt.Printf("%d. %s: FAILED after %d attempts: %v\n",
				i+1, res.Host, res.Attempts, res.Err)
			errors = append(errors, fmt.Sprintf("Machine %s: %v", res.Host, res.Err))
		}
	}

	if len(errors) > 0 {
		fmt.Printf("Encountered %d errors during stop:\n", len(errors))
		for _, e := range errors {
			fmt.Println("-", e)
		}
	} else if len(machines) > 0 {
		fmt.Println("Stop signal successfully sent to all machines")
	}

	fmt.Println("stopped jobs!")
	return results
}
