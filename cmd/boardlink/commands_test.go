package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/boardlink/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetIn(strings.NewReader(input))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "boardlink dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestRunCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "none.toml"))
	assert.ErrorIs(t, err, config.ErrFileNotFound)
}

func TestRunCommand_RejectsArguments(t *testing.T) {
	_, err := execute(t, "run", "extra")
	assert.Error(t, err)
}

func TestRunCommand_ConfigFromStdin(t *testing.T) {
	_, err := executeWithInput(t, "[logging]\nlevel = \"loud\"\n", "run", "--config", "-")

	require.ErrorIs(t, err, config.ErrInvalidConfig)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "logging.level", verr.Path)
}
