package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Output     string // table, json or yaml
}

// ClientFlags holds the daemon connection flags of API commands.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	Token      string
	Username   string
	Password   string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Listen     string
	Start      []string // services started once the daemon is up
}

// StartFlags holds flags for start and restart. Override flags are only sent
// when at least one of them is set.
type StartFlags struct {
	ClientFlags
	Disabled bool
	Version  string
	Ports    []string // name=port
	Env      []string // KEY=VALUE
	Args     []string
}

// LogsFlags holds flags for the logs command.
type LogsFlags struct {
	ClientFlags
	Tail int
	Path bool
}

// ExportFlags holds flags for export-logs and clear-logs.
type ExportFlags struct {
	ClientFlags
	Service string
	Level   string
	Limit   int
}

// OverrideFlags holds flags for the local override commands.
type OverrideFlags struct {
	Root string
	From int
	To   int
}

// AuthFlags holds flags for the auth subcommands.
type AuthFlags struct {
	ClientFlags
	Cost  int
	Stdin bool
}
