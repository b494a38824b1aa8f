package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/pkg/schema"
)

func TestSummarize(t *testing.T) {
	s := NewSummarizer()
	ctx := context.Background()

	tests := []struct {
		name string
		body string
		want Summary
	}{
		{
			name: "full summary",
			body: `{"createdPaths":["/a"],"summary":{"total_dirs":4,"total_files":2,"total_symlinks":1,"project":"chip","block":"cpu","run":"r1"}}`,
			want: Summary{Dirs: 4, Files: 2, Symlinks: 1, Project: "chip", Block: "cpu", Run: "r1"},
		},
		{
			name: "zero dirs is kept",
			body: `{"createdPaths":["/a","/b"],"summary":{"total_dirs":0}}`,
			want: Summary{Dirs: 0},
		},
		{
			name: "missing summary counts paths",
			body: `{"createdPaths":["/a","/b","/c"]}`,
			want: Summary{Dirs: 3},
		},
		{
			name: "nothing at all",
			body: `{"success":true}`,
			want: Summary{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Summarize(ctx, json.RawMessage(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSummarize_Errors(t *testing.T) {
	_, err := NewSummarizer().Summarize(context.Background(), json.RawMessage(`not json`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeRemoteExecution))

	_, err = NewSummarizer().WithQuery("dirs", ".[").Summarize(context.Background(), json.RawMessage(`{}`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestSummarize_CustomQuery(t *testing.T) {
	s := NewSummarizer().WithQuery("dirs", `[.createdPaths[] | select(endswith("/"))] | length`)
	got, err := s.Summarize(context.Background(), json.RawMessage(`{"createdPaths":["/a/","/b","/c/"]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Dirs)
}

func TestApprovalPolicy(t *testing.T) {
	p := schema.FlowdirParameters{ProjectName: "chip", BlockName: "cpu", ToolName: "cadence", Stage: "PD", RunName: "r1"}

	none, err := NewApprovalPolicy("")
	require.NoError(t, err)
	assert.Nil(t, none)
	ok, err := none.AutoApprove(p)
	require.NoError(t, err)
	assert.False(t, ok)

	policy, err := NewApprovalPolicy(`params.stage != "all" && params.toolName == "cadence"`)
	require.NoError(t, err)
	ok, err = policy.AutoApprove(p)
	require.NoError(t, err)
	assert.True(t, ok)

	p.Stage = "all"
	ok, err = policy.AutoApprove(p)
	require.NoError(t, err)
	assert.False(t, ok)

	optional, err := NewApprovalPolicy(`has(params.referenceRun)`)
	require.NoError(t, err)
	ok, err = optional.AutoApprove(p)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewApprovalPolicy(`params.stage ==`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	missing, err := NewApprovalPolicy(`params.referenceRun == "r0"`)
	require.NoError(t, err)
	_, err = missing.AutoApprove(p)
	assert.Error(t, err)
}

func TestGate(t *testing.T) {
	g := NewGate()
	var seen []*ApprovalRequest
	g.OnChange(func(r *ApprovalRequest) { seen = append(seen, r) })

	assert.False(t, g.IsOpen())
	assert.Nil(t, g.Pending())

	g.Open(ApprovalRequest{ExecutionID: "e1", Parameters: schema.FlowdirParameters{ProjectName: "chip"}})
	require.True(t, g.IsOpen())
	assert.Equal(t, "chip", g.Pending().Parameters.ProjectName)

	g.Close()
	assert.False(t, g.IsOpen())

	require.Len(t, seen, 2)
	assert.Equal(t, "e1", seen[0].ExecutionID)
	assert.Nil(t, seen[1])
}
