package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/pinnacle/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/pinnacle.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Flows ---

// UpsertFlow inserts the flow or overwrites the stored flow with the same id.
// created_at of an existing row is preserved. Timestamps are written back to flow.
func (s *LibSQLStore) UpsertFlow(ctx context.Context, flow *schema.SavedFlow) error {
	if flow.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "flow id is required")
	}
	nodes, err := json.Marshal(nonNilNodes(flow.Nodes))
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(nonNilEdges(flow.Edges))
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	canvas, err := json.Marshal(flow.CanvasState)
	if err != nil {
		return fmt.Errorf("marshal canvas_state: %w", err)
	}

	flow.CreatedAt = timeOrNow(flow.CreatedAt)
	flow.UpdatedAt = timeOrNow(flow.UpdatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, nodes, edges, canvas_state, workspace_settings, is_auto_save, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, nodes=excluded.nodes, edges=excluded.edges,
		   canvas_state=excluded.canvas_state, workspace_settings=excluded.workspace_settings,
		   is_auto_save=excluded.is_auto_save, updated_at=excluded.updated_at`,
		flow.ID, flow.Name, string(nodes), string(edges), string(canvas), nullRaw(flow.WorkspaceSettings),
		boolInt(flow.IsAutoSave), flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert flow %s: %w", flow.ID, err)
	}
	return nil
}

// GetFlow returns the flow with the given id.
func (s *LibSQLStore) GetFlow(ctx context.Context, id string) (*schema.SavedFlow, error) {
	f := &schema.SavedFlow{}
	var (
		nodesJSON, edgesJSON, canvasJSON string
		settings                         sql.NullString
		autoSave                         int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, nodes, edges, canvas_state, workspace_settings, is_auto_save, created_at, updated_at
		 FROM flows WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &nodesJSON, &edgesJSON, &canvasJSON, &settings, &autoSave, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("flow", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(nodesJSON), &f.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &f.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	if canvasJSON != "" {
		_ = json.Unmarshal([]byte(canvasJSON), &f.CanvasState)
	}
	f.WorkspaceSettings = rawOrNil(settings)
	f.IsAutoSave = autoSave != 0
	return f, nil
}

// ListFlows returns flow summaries, most recently updated first.
func (s *LibSQLStore) ListFlows(ctx context.Context, filter FlowFilter) ([]*schema.FlowSummary, error) {
	query := `SELECT id, name, json_array_length(nodes), json_array_length(edges), is_auto_save, created_at, updated_at FROM flows`
	if filter.ExcludeAutoSave {
		query += " WHERE is_auto_save = 0"
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*schema.FlowSummary
	for rows.Next() {
		f := &schema.FlowSummary{}
		var autoSave int
		if err := rows.Scan(&f.ID, &f.Name, &f.NodeCount, &f.EdgeCount, &autoSave, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.IsAutoSave = autoSave != 0
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// DeleteFlow removes a flow.
func (s *LibSQLStore) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "flow", id)
}

// --- FlowDir audit records ---

// CreateExecution stores a new audit record. Status defaults to running.
func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *schema.AuditRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	if rec.Status == "" {
		rec.Status = schema.AuditStatusRunning
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flowdir_executions (id, flow_id, parameters, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, nullStr(rec.FlowID), string(params), string(rec.Status), rec.CreatedAt,
	)
	return err
}

// CompleteExecution records the outcome of an execution.
func (s *LibSQLStore) CompleteExecution(ctx context.Context, id string, u schema.AuditUpdateRequest) error {
	status := schema.AuditStatusFailed
	if u.Success {
		status = schema.AuditStatusSucceeded
	}
	paths, err := marshalStrings(u.CreatedPaths)
	if err != nil {
		return fmt.Errorf("marshal created_paths: %w", err)
	}
	logs, err := marshalStrings(u.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flowdir_executions
		 SET status = ?, error_message = ?, total_dirs = ?, total_files = ?, total_symlinks = ?,
		     created_paths = ?, logs = ?, execution_time = ?, completed_at = ?
		 WHERE id = ?`,
		string(status), nullStr(u.ErrorMessage), u.TotalDirs, u.TotalFiles, u.TotalSymlinks,
		paths, logs, u.ExecutionTime, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "flowdir execution", id)
}

const executionColumns = `id, flow_id, parameters, status, error_message, total_dirs, total_files, total_symlinks,
	created_paths, logs, execution_time, created_at, completed_at`

// GetExecution returns one audit record.
func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM flowdir_executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("flowdir execution", id)
	}
	return rec, err
}

// ListExecutions returns audit records, newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.AuditRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM flowdir_executions`
	var where []string
	var args []any
	if filter.FlowID != "" {
		where = append(where, "flow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*schema.AuditRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*schema.AuditRecord, error) {
	rec := &schema.AuditRecord{}
	var (
		flowID, errMsg, paths, logs sql.NullString
		paramsJSON, status          string
		completedAt                 sql.NullTime
	)
	if err := row.Scan(&rec.ID, &flowID, &paramsJSON, &status, &errMsg, &rec.TotalDirs, &rec.TotalFiles,
		&rec.TotalSymlinks, &paths, &logs, &rec.ExecutionTime, &rec.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	rec.FlowID = flowID.String
	rec.Status = schema.AuditStatus(status)
	rec.ErrorMessage = errMsg.String
	if err := json.Unmarshal([]byte(paramsJSON), &rec.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if paths.Valid {
		_ = json.Unmarshal([]byte(paths.String), &rec.CreatedPaths)
	}
	if logs.Valid {
		_ = json.Unmarshal([]byte(logs.String), &rec.Logs)
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

// --- Session cache ---

// PutSession writes the snapshot stored under key, replacing any previous one.
func (s *LibSQLStore) PutSession(ctx context.Context, key string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_cache (key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		key, string(data), time.Now().UTC(),
	)
	return err
}

// GetSession returns the snapshot stored under key.
func (s *LibSQLStore) GetSession(ctx context.Context, key string) (*SessionEntry, error) {
	e := &SessionEntry{Key: key}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, updated_at FROM session_cache WHERE key = ?`, key,
	).Scan(&data, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", key)
	}
	if err != nil {
		return nil, err
	}
	e.Data = json.RawMessage(data)
	return e, nil
}

// DeleteSession removes the snapshot stored under key. Missing keys are not an error.
func (s *LibSQLStore) DeleteSession(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_cache WHERE key = ?`, key)
	return err
}

// --- Settings ---

// PutSetting stores a JSON value under key.
func (s *LibSQLStore) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	return err
}

// GetSetting returns the JSON value stored under key.
func (s *LibSQLStore) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("setting", key)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 || string(r) == "null" {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nonNilNodes(n []schema.FlowNode) []schema.FlowNode {
	if n == nil {
		return []schema.FlowNode{}
	}
	return n
}

func nonNilEdges(e []schema.FlowEdge) []schema.FlowEdge {
	if e == nil {
		return []schema.FlowEdge{}
	}
	return e
}
