package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != Version {
		t.Errorf("Expected %q, got %q", Version, got)
	}
}

func TestRootCommandFlags(t *testing.T) {
	root := newRootCommand()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("Expected persistent --config flag")
	}

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range []string{"serve", "relay", "version"} {
		if !names[name] {
			t.Errorf("Expected %s subcommand", name)
		}
	}
}

func TestLoadRuntimeConfigFromFile(t *testing.T) {
	clearConfigEnvVars(t)
	path := writeConfigFile(t, "node.yaml", "port: \"9191\"\nlog_level: debug\nowner: \""+testOwner+"\"\n")
	t.Setenv("PORT", "9292")

	cfg, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("loadRuntimeConfig failed: %v", err)
	}
	if cfg.Port != "9292" {
		t.Errorf("Expected environment to override file port, got %s", cfg.Port)
	}
	if cfg.Owner != testOwner || cfg.LogLevel != "debug" {
		t.Errorf("Expected file values to load, got owner %q level %q", cfg.Owner, cfg.LogLevel)
	}

	if _, err := loadRuntimeConfig(path + ".missing"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestIndexSource(t *testing.T) {
	if indexSource(0) != nil {
		t.Error("Expected nil source for seed 0")
	}

	a, b := indexSource(42), indexSource(42)
	for i := 0; i < 10; i++ {
		if x, y := a.IntN(OracleIndexSpace), b.IntN(OracleIndexSpace); x != y {
			t.Fatalf("Expected seeded sources to agree, got %d and %d", x, y)
		}
	}
}
