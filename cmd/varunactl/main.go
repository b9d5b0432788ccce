// Copyright (c) OpenMMLab. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/liokouras/varuna/pkg/ctl"
)

func main() {
	varunactl := ctl.NewVarunactlCommand()

	if err := varunactl.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
