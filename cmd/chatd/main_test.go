package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := newRootCommand()
	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "down"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("find %v: cmd=%v err=%v", path, cmd, err)
		}
	}
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("CHAT_DATABASE_URL", "")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"migrate", "up"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "CHAT_DATABASE_URL") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}
