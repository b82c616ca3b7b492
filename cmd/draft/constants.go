package main

// Default limits for CLI commands.
const (
	DefaultListLimit = 50
	MaxErrorLines    = 3
)
