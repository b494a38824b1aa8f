package dircreate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `Starting directory creation
FLOWDIR_PROGRESS:1/3:Creating base directories
FLOWDIR_LOG:DIR_CREATED:SUCCESS:/work/chip/cpu
FLOWDIR_LOG:DIR_CREATED:SUCCESS:/work/chip/cpu/run-1
FLOWDIR_PROGRESS:2/3:Copying scripts
FLOWDIR_LOG:FILE_CREATED:SUCCESS:/work/chip/cpu/run-1/setup.tcl
FLOWDIR_LOG:SYMLINK_CREATED:SUCCESS:/work/chip/cpu/run-1/ref
FLOWDIR_SUMMARY:PROJECT:chip
FLOWDIR_SUMMARY:BLOCK:cpu
FLOWDIR_SUMMARY:RUN:run-1
FLOWDIR_SUMMARY:TOOL:cadence
FLOWDIR_SUMMARY:TOTAL_DIRS:2
FLOWDIR_SUMMARY:TOTAL_FILES:1
FLOWDIR_SUMMARY:TOTAL_SYMLINKS:1
FLOWDIR_PROGRESS:3/3:Done
FLOWDIR_LOG:COMPLETION:SUCCESS:all directories created
`

func TestParse_Sample(t *testing.T) {
	out, err := Parse(strings.NewReader(sampleOutput))
	require.NoError(t, err)

	assert.Empty(t, out.Errors)
	require.Len(t, out.Progress, 3)
	assert.Equal(t, Progress{Step: 2, Total: 3, Description: "Copying scripts"}, out.Progress[1])

	s := out.Summary
	assert.Equal(t, "chip", s.Project)
	assert.Equal(t, "cpu", s.Block)
	assert.Equal(t, "run-1", s.Run)
	assert.Equal(t, "cadence", s.Tool)
	require.NotNil(t, s.TotalDirs)
	assert.Equal(t, 2, *s.TotalDirs)
	assert.Equal(t, 1, *s.TotalFiles)
	assert.Equal(t, 1, *s.TotalSymlinks)

	assert.Equal(t, []string{
		"/work/chip/cpu",
		"/work/chip/cpu/run-1",
		"/work/chip/cpu/run-1/setup.tcl",
		"/work/chip/cpu/run-1/ref",
	}, out.CreatedPaths())

	assert.Contains(t, out.Logs, "Starting directory creation")
	assert.Contains(t, out.Logs, "FLOWDIR_LOG:COMPLETION:SUCCESS:all directories created")
}

func TestParse_SummaryPathsWin(t *testing.T) {
	out, err := Parse(strings.NewReader(`FLOWDIR_LOG:DIR_CREATED:SUCCESS:/a
FLOWDIR_SUMMARY:SYMLINK_PATH:/c
FLOWDIR_SUMMARY:DIR_PATH:/a
FLOWDIR_SUMMARY:DIR_PATH:/b
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b", "/c"}, out.CreatedPaths())
}

func TestParse_FailedLogEntriesAreNotPaths(t *testing.T) {
	out, err := Parse(strings.NewReader("FLOWDIR_LOG:DIR_CREATED:EXISTS:/a\nFLOWDIR_LOG:DIR_CREATED:SUCCESS:/b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/b"}, out.CreatedPaths())
}

func TestParse_PathWithColon(t *testing.T) {
	out, err := Parse(strings.NewReader("FLOWDIR_LOG:FILE_CREATED:SUCCESS:/w/a:b.txt\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/a:b.txt"}, out.CreatedPaths())
}

func TestParse_ErrorsAndJunk(t *testing.T) {
	out, err := Parse(strings.NewReader(`FLOWDIR_ERROR: working directory not writable
FLOWDIR_PROGRESS:x/3:bad
FLOWDIR_PROGRESS:nope
FLOWDIR_SUMMARY:TOTAL_DIRS:many

`))
	require.NoError(t, err)
	assert.Equal(t, []string{"working directory not writable"}, out.Errors)
	assert.Empty(t, out.Progress)
	assert.Nil(t, out.Summary.TotalDirs)
	assert.Empty(t, out.Logs)
	assert.Empty(t, out.CreatedPaths())
}
