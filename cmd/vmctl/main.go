package main

import (
	"os"

	"github.com/vmdemo/vm-provisioner/cmd/vmctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
