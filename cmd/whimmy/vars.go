package cli

// Shared CLI flags (used across multiple command files)
var (
	cfgFile    string
	accountArg string
)

// Version is set by main.
var Version = "dev"
