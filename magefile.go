//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

func cgoEnv() []string {
	ldflags := os.Getenv("CGO_LDFLAGS")
	cflags := os.Getenv("CGO_CFLAGS")
	return append(os.Environ(),
		"CGO_ENABLED=1",
		fmt.Sprintf("CGO_LDFLAGS=%s", ldflags),
		fmt.Sprintf("CGO_CFLAGS=%s", cflags))
}

func goCommand(args ...string) error {
	cmd := exec.Command("go", args...)
	cmd.Env = cgoEnv()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func Build() error {
	mg.Deps(BuildParser)
	mg.Deps(BuildMeasureStore)
	fmt.Println("Compilation finished")
	return nil
}

func BuildParser() error {
	fmt.Println("Building parser executable...")
	return goCommand("build", "-o", "./bin/parser", "./parser")
}

func BuildMeasureStore() error {
	fmt.Println("Building measureStore executable...")
	return goCommand("build", "-o", "./bin/measureStore", "./measureStore")
}

// Test runs the unit tests. The store tests need libhdf5 through cgo.
func Test() error {
	fmt.Println("Running tests...")
	return goCommand("test", "./pkg/...", "./parser/...")
}
