// Package main provides the entry point for sesim, a syscall-emulation
// system simulator for AArch64 programs.
package main

import (
	"os"
)

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
