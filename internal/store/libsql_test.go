package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func sampleFlow(id, name string, updated time.Time) *schema.SavedFlow {
	return &schema.SavedFlow{
		ID:   id,
		Name: name,
		Nodes: []schema.FlowNode{
			{ID: "n1", Type: schema.NodeTypeInput, Data: schema.NodeData{Label: "Project Name", ParameterName: "project_name", Value: "chip"}},
			{ID: "n2", Type: schema.NodeTypeProcess, Position: schema.Position{X: 300}, Data: schema.NodeData{Label: "Block Name"}},
		},
		Edges:       []schema.FlowEdge{schema.NewEdge("n1", "n2")},
		CanvasState: schema.CanvasState{Viewport: schema.Viewport{X: 10, Y: 20, Zoom: 1.5}},
		UpdatedAt:   updated,
	}
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	sort.Strings(out)
	return out
}

// --- Migrations ---

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	migrations, err := loadMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestLoadMigrations_Validation(t *testing.T) {
	got, err := loadMigrations(fstest.MapFS{
		"migrations/002_second.sql": {Data: []byte("CREATE TABLE b (y INT);")},
		"migrations/001_first.sql":  {Data: []byte("CREATE TABLE a (x INT);")},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, 2, got[1].Version)

	_, err = loadMigrations(fstest.MapFS{"migrations/nounderscore.sql": {Data: []byte("x")}})
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("x")},
		"migrations/1_b.sql":   {Data: []byte("y")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- comment\nCREATE TABLE a (x INT);\n\n-- another\nCREATE TABLE b (y INT);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
}

// --- Flows ---

func TestUpsertAndGetFlow_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := sampleFlow(uuid.New().String(), "my flow", time.Time{})
	f.WorkspaceSettings = json.RawMessage(`{"root":"/proj"}`)
	require.NoError(t, s.UpsertFlow(ctx, f))

	got, err := s.GetFlow(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "my flow", got.Name)
	assert.Equal(t, ids(f.Nodes, func(n schema.FlowNode) string { return n.ID }), ids(got.Nodes, func(n schema.FlowNode) string { return n.ID }))
	assert.Equal(t, ids(f.Edges, func(e schema.FlowEdge) string { return e.ID }), ids(got.Edges, func(e schema.FlowEdge) string { return e.ID }))
	assert.Equal(t, schema.Viewport{X: 10, Y: 20, Zoom: 1.5}, got.CanvasState.Viewport)
	assert.JSONEq(t, `{"root":"/proj"}`, string(got.WorkspaceSettings))
	assert.Equal(t, "project_name", got.Nodes[0].Data.ParameterName)
	assert.False(t, got.IsAutoSave)
}

func TestUpsertFlow_OverwritesAndKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := sampleFlow("f1", "v1", created)
	f.CreatedAt = created
	require.NoError(t, s.UpsertFlow(ctx, f))

	f2 := sampleFlow("f1", "v2", created.Add(time.Hour))
	f2.Nodes = f2.Nodes[:1]
	f2.Edges = nil
	require.NoError(t, s.UpsertFlow(ctx, f2))

	got, err := s.GetFlow(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Edges)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestUpsertFlow_RequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertFlow(context.Background(), &schema.SavedFlow{Name: "x"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGetFlow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFlow(context.Background(), "nonexistent")
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestListFlows_NewestUpdatedFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertFlow(ctx, sampleFlow("old", "old", base)))
	require.NoError(t, s.UpsertFlow(ctx, sampleFlow("new", "new", base.Add(2*time.Hour))))
	require.NoError(t, s.UpsertFlow(ctx, sampleFlow("mid", "mid", base.Add(time.Hour))))

	auto := sampleFlow("auto", "Autosave", base.Add(3*time.Hour))
	auto.IsAutoSave = true
	require.NoError(t, s.UpsertFlow(ctx, auto))

	all, err := s.ListFlows(ctx, FlowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"auto", "new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID, all[3].ID})
	assert.Equal(t, 2, all[1].NodeCount)
	assert.Equal(t, 1, all[1].EdgeCount)
	assert.True(t, all[0].IsAutoSave)

	named, err := s.ListFlows(ctx, FlowFilter{ExcludeAutoSave: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "new", named[0].ID)
}

func TestDeleteFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertFlow(ctx, sampleFlow("f", "f", time.Time{})))

	require.NoError(t, s.DeleteFlow(ctx, "f"))
	_, err := s.GetFlow(ctx, "f")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	err = s.DeleteFlow(ctx, "f")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- FlowDir audit records ---

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &schema.AuditRecord{
		ID:     uuid.New().String(),
		FlowID: "flow-1",
		Parameters: schema.FlowdirParameters{
			ProjectName: "chip", BlockName: "cpu", ToolName: "cadence", Stage: "PD", RunName: "r1", PDSteps: "all",
		},
	}
	require.NoError(t, s.CreateExecution(ctx, rec))
	assert.Equal(t, schema.AuditStatusRunning, rec.Status)

	got, err := s.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.AuditStatusRunning, got.Status)
	assert.Equal(t, "all", got.Parameters.PDSteps)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteExecution(ctx, rec.ID, schema.AuditUpdateRequest{
		Success:      true,
		TotalDirs:    7,
		TotalFiles:   3,
		CreatedPaths: []string{"/a", "/b"},
		Logs:         []string{"done"},
	}))

	got, err = s.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.AuditStatusSucceeded, got.Status)
	assert.Equal(t, 7, got.TotalDirs)
	assert.Equal(t, 3, got.TotalFiles)
	assert.Equal(t, []string{"/a", "/b"}, got.CreatedPaths)
	assert.Equal(t, []string{"done"}, got.Logs)
	require.NotNil(t, got.CompletedAt)
}

func TestCompleteExecution_Failure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := &schema.AuditRecord{ID: "e1", Parameters: schema.FlowdirParameters{ProjectName: "p"}}
	require.NoError(t, s.CreateExecution(ctx, rec))

	require.NoError(t, s.CompleteExecution(ctx, "e1", schema.AuditUpdateRequest{ErrorMessage: "timeout"}))
	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, schema.AuditStatusFailed, got.Status)
	assert.Equal(t, "timeout", got.ErrorMessage)

	err = s.CompleteExecution(ctx, "missing", schema.AuditUpdateRequest{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestListExecutions_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, flow := range []string{"a", "a", "b"} {
		require.NoError(t, s.CreateExecution(ctx, &schema.AuditRecord{
			ID:        uuid.New().String(),
			FlowID:    flow,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := s.ListExecutions(ctx, ExecutionFilter{FlowID: "a"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))

	recs, err = s.ListExecutions(ctx, ExecutionFilter{Status: schema.AuditStatusSucceeded})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// --- Session cache ---

func TestSessionCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "pinnacle-flow-session")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	require.NoError(t, s.PutSession(ctx, "pinnacle-flow-session", json.RawMessage(`{"nodes":[]}`)))
	require.NoError(t, s.PutSession(ctx, "pinnacle-flow-session", json.RawMessage(`{"nodes":[{"id":"a"}]}`)))

	e, err := s.GetSession(ctx, "pinnacle-flow-session")
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[{"id":"a"}]}`, string(e.Data))

	require.NoError(t, s.DeleteSession(ctx, "pinnacle-flow-session"))
	require.NoError(t, s.DeleteSession(ctx, "pinnacle-flow-session"))
	_, err = s.GetSession(ctx, "pinnacle-flow-session")
	assert.Error(t, err)
}

// --- Settings ---

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "workspace")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	require.NoError(t, s.PutSetting(ctx, "workspace", json.RawMessage(`{"root":"/a"}`)))
	require.NoError(t, s.PutSetting(ctx, "workspace", json.RawMessage(`{"root":"/b"}`)))
	v, err := s.GetSetting(ctx, "workspace")
	require.NoError(t, err)
	assert.JSONEq(t, `{"root":"/b"}`, string(v))
}

// --- Activity log ---

func TestAppendEvent_Sequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordEvent(ctx, "f1", schema.EventFlowSaved, map[string]any{"n": i}))
	}
	require.NoError(t, s.RecordEvent(ctx, "f2", schema.EventFlowDeleted, nil))

	events, err := s.GetEvents(ctx, "f1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, schema.EventFlowSaved, e.Type)
	}
	assert.JSONEq(t, `{"n":2}`, string(events[2].Payload))

	since, err := s.GetEvents(ctx, "f1", 2)
	require.NoError(t, err)
	require.Len(t, since, 1)

	other, err := s.GetEvents(ctx, "f2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Nil(t, other[0].Payload)
}

func TestAppendEvent_RequiresFlowID(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent(context.Background(), &Event{Type: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func BenchmarkAppendEvent(b *testing.B) {
	dir := b.TempDir()
	s, err := NewLibSQLStore("file:" + filepath.Join(dir, "bench.db"))
	require.NoError(b, err)
	defer s.Close()
	require.NoError(b, s.Migrate(context.Background()))

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.RecordEvent(ctx, "bench", schema.EventFlowAutosave, nil); err != nil {
			b.Fatal(err)
		}
	}
}
