package main

import "time"

// Flag structs decouple cobra wiring from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RestartFlags struct {
	ConfigPath string
	Name       string

	APIUrl      string
	APITimeout  time.Duration
	APIInsecure bool
}

type StopFlags struct {
	ConfigPath string
	Name       string
	Wait       time.Duration

	APIUrl      string
	APITimeout  time.Duration
	APIInsecure bool
}

type StatusFlags struct {
	ConfigPath string
	Name       string

	APIUrl      string
	APITimeout  time.Duration
	APIInsecure bool
}

type HistoryFlags struct {
	ConfigPath string
	Name       string
	Limit      int

	APIUrl      string
	APITimeout  time.Duration
	APIInsecure bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PIDFile    string
	LogFile    string
}

type ConfigInitFlags struct {
	Path string
}
