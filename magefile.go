//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binDir = "bin"

const buildPackage = "github.com/G-Research/flotilla/internal/flotilla/build"

// Build the flotilla binary with version information baked in.
func Build() error {
	mg.Deps(makeBinDir)
	return sh.RunV(
		"go", "build",
		"-ldflags", ldflags(),
		"-o", filepath.Join(binDir, binaryWithExt("flotilla")),
		"./cmd/flotilla",
	)
}

// Run the tests.
func Tests() error {
	return sh.RunV("go", "test", "-count=1", "./...")
}

// Linting Check
func CheckLint() error {
	return sh.RunV("golangci-lint", "run", "--timeout", "10m")
}

// Clean up after yourself
func Clean() {
	fmt.Println("Cleaning...")
	os.RemoveAll(binDir)
}

func makeBinDir() error {
	return os.MkdirAll(binDir, 0o755)
}

func binaryWithExt(name string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("%s.exe", name)
	}
	return name
}

func ldflags() string {
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "UNKNOWN"
	}
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "UNKNOWN"
	}
	return fmt.Sprintf(
		"-X %[1]s.ReleaseVersion=%[2]s -X %[1]s.GitCommit=%[3]s -X %[1]s.GoVersion=%[4]s -X %[1]s.BuildTime=%[5]s",
		buildPackage, version, commit, runtime.Version(), time.Now().UTC().Format(time.RFC3339),
	)
}
