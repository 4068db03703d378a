package main

import (
	"os"

	"github.com/kmoreau/plugsched/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
