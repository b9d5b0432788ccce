// Copyright (c) OpenMMLab. All rights reserved.

package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liokouras/varuna/logger"
	v "github.com/liokouras/varuna/pkg/version"
)

func NewCmdVersion() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Get varunactl version information",
		Long: `Get varunactl version information.
Usage:
  varunactl version [--json]

Example:
  varunactl version --json`,
		Run: func(cmd *cobra.Command, args []string) {
			PrintVersion(jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print structured version information as JSON")

	return cmd
}

// PrintVersion writes the ctl version block, or the structured form when
// jsonOut is set.
func PrintVersion(jsonOut bool) {
	if jsonOut {
		fmt.Println(logger.ToPrettyJSON(v.GetStructuredVersion()))
		return
	}
	fmt.Println("varunactl version information is as follows: ")
	fmt.Print(v.GetCtlVersionInfo())
}
