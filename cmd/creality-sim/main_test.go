// Package main provides tests for the creality-sim CLI.
package main

import (
	"testing"
)

func TestNewApp(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if app == nil {
		t.Fatal("NewApp() returned nil")
	}
	if app.rootCmd == nil {
		t.Fatal("NewApp() did not create rootCmd")
	}
	if app.rootCmd.Use != "creality-sim" {
		t.Errorf("rootCmd.Use = %q, want %q", app.rootCmd.Use, "creality-sim")
	}
	if app.rootCmd.RunE == nil {
		t.Error("RunE is nil")
	}
}

func TestSetupFlags(t *testing.T) {
	t.Parallel()

	app := NewApp()

	flags := []string{
		"host", "ws-port", "http-port",
		"model", "simulate-print", "print-seconds", "layers", "objects", "self-test-seconds",
		"target-nozzle", "target-bed", "target-box",
		"max-x", "max-y", "max-z",
		"width", "height", "fps",
		"log-level",
	}
	for _, name := range flags {
		if flag := app.rootCmd.Flags().Lookup(name); flag == nil {
			t.Errorf("flag %q not found", name)
		}
	}
}

func TestFlagDefaults(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if err := app.rootCmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	if app.model != "k2plus" {
		t.Errorf("model default = %q, want k2plus", app.model)
	}
	if app.wsPort != 9999 {
		t.Errorf("ws-port default = %d, want 9999", app.wsPort)
	}
	if app.httpPort != 8000 {
		t.Errorf("http-port default = %d, want 8000", app.httpPort)
	}
	if app.printSeconds != 600 {
		t.Errorf("print-seconds default = %d, want 600", app.printSeconds)
	}
	if app.fps != 30 {
		t.Errorf("fps default = %d, want 30", app.fps)
	}
}

func TestRun_RejectsUnknownModel(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.rootCmd.SetArgs([]string{"--model", "voron"})

	if err := app.Execute(); err == nil {
		t.Error("Execute() with unknown model should return error")
	}
}

func TestExecute_Help(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.rootCmd.SetArgs([]string{"--help"})

	if err := app.Execute(); err != nil {
		t.Errorf("Execute() with --help error = %v", err)
	}
}
