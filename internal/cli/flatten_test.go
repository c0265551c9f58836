package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenCommand_Nested(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"flatten", "--depth", "3", "--width", "10", "--format", "json"})

	require.NoError(t, cmd.Execute())

	var report FlattenReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.Finished)
	assert.Equal(t, 35, report.Steps)
	assert.Equal(t, 1000, report.MaxSteps)
}

func TestFlattenCommand_InfiniteHitsBudget(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"flatten", "--infinite", "--max-steps", "250"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "finished: false\nsteps:    250/250\n", out.String())
}

func TestFlattenCommand_RejectsBadDepth(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"flatten", "--depth", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
