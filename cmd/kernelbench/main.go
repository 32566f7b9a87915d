package main

import (
	"os"

	"github.com/notargets/KernelBench/logging"
)

func main() {
	err := newRootCmd().Execute()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}
