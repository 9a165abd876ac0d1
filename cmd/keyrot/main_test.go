package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"rotate", "plan", "keys", "validate", "daemon"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "debug", "no-color"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRun_MissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "keyrot.yaml")

	err := run(context.Background(), []string{"validate", "--config", missing, "--no-color"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestRun_Version(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "dev")
}
