package main

import (
	"testing"
)

func TestRootCmdHasExpectedSubcommands(t *testing.T) {
	cmd := rootCmd()

	want := map[string]bool{
		"serve":   false,
		"task":    false,
		"config":  false,
		"version": false,
	}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestTaskCmdHasLifecycleSubcommands(t *testing.T) {
	configPath := ""
	cmd := taskCmd(&configPath)

	want := map[string]bool{
		"create":  false,
		"clarify": false,
		"approve": false,
		"message": false,
		"run":     false,
		"list":    false,
		"show":    false,
		"cleanup": false,
	}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("task subcommand %q not registered", name)
		}
	}
}
