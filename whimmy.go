package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	cli "github.com/whimmy-ai/whimmy-plugin/cmd/whimmy"
	"github.com/whimmy-ai/whimmy-plugin/internal/defaults"
)

var version = "dev"

func main() {
	// Load .env files if present (ignore error if not found). Values already
	// in the environment win.
	_ = godotenv.Load()
	if dir, err := defaults.DataDir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, defaults.EnvFile))
	}

	cli.Version = version
	if err := cli.SetupRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
