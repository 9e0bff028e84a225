package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qt-creator/qt-creator-sub115/internal/version"
	"github.com/qt-creator/qt-creator-sub115/pkg/testutil"
)

func TestVersionCommandPrintsJson(t *testing.T) {
	t.Parallel()

	cmd, err := NewVersionCommand(testutil.NewLogForTesting("version"))
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	var printed version.VersionOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, version.Version().Version, printed.Version)
}

func TestVersionCommandRejectsArguments(t *testing.T) {
	t.Parallel()

	cmd, err := NewVersionCommand(testutil.NewLogForTesting("version"))
	require.NoError(t, err)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
