package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rendis/pinnacle/internal/flowclient"
	"github.com/rendis/pinnacle/pkg/schema"
)

// MaxLoggedPaths is how many created paths are written to the execution log.
const MaxLoggedPaths = 10

// runFlowdir executes the approved parameters against the directory-creation
// service. Audit record failures are logged and never change the outcome.
func (o *Orchestrator) runFlowdir(ctx context.Context, execID string, p schema.FlowdirParameters) (out *Outcome, err error) {
	out = &Outcome{ExecutionID: execID, Parameters: &p}
	o.store.SetExecuting(true)

	out.AuditID = o.createAudit(ctx, p)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer func() {
		cancel()
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeRemoteExecution, "execution panicked: %v", r)
			o.store.SetAllNodeStatus(schema.NodeStatusError)
			o.finish(ctx, out, schema.ExecutionFailed)
		}
		o.store.SetExecuting(false)
		o.gate.Close()
	}()

	o.store.SetAllNodeStatus(schema.NodeStatusRunning)
	o.log(ctx, fmt.Sprintf("Starting FlowDir execution: project=%s block=%s tool=%s stage=%s run=%s",
		p.ProjectName, p.BlockName, p.ToolName, p.Stage, p.RunName))

	start := time.Now()
	res, callErr := o.backend.ExecuteFlowdir(callCtx, p)
	if callErr != nil {
		err = o.flowdirError(ctx, callCtx, callErr)
		msg := errorMessage(err)
		o.store.SetAllNodeStatus(schema.NodeStatusError)
		o.log(ctx, "FlowDir execution failed: "+msg)
		o.updateAudit(ctx, out.AuditID, schema.AuditUpdateRequest{
			Success:       false,
			ErrorMessage:  msg,
			Logs:          o.store.Logs(),
			ExecutionTime: time.Since(start).Milliseconds(),
		})
		o.finish(ctx, out, schema.ExecutionFailed)
		return out, err
	}

	summary, sumErr := o.summarize(ctx, res)
	if sumErr != nil {
		o.logger.WarnContext(ctx, "summary extraction failed", "error", sumErr)
	}
	out.Summary = &summary

	o.logResult(ctx, res, summary)
	o.store.SetAllNodeStatus(schema.NodeStatusSuccess)
	o.updateAudit(ctx, out.AuditID, schema.AuditUpdateRequest{
		Success:       true,
		TotalDirs:     summary.Dirs,
		TotalFiles:    summary.Files,
		TotalSymlinks: summary.Symlinks,
		CreatedPaths:  res.CreatedPaths,
		Logs:          o.store.Logs(),
		ExecutionTime: firstPositive(res.ExecutionTime, time.Since(start).Milliseconds()),
	})
	o.finish(ctx, out, schema.ExecutionCompleted)
	return out, nil
}

// flowdirError classifies a failed call. A call stopped by the ceiling is a
// TIMEOUT_ERROR whose message says the job may still be running.
func (o *Orchestrator) flowdirError(ctx, callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return schema.NewErrorf(schema.ErrCodeTimeout,
			"request timed out after %s; the directory creation may still be running on the server, "+
				"check the output location before retrying", o.timeout).WithCause(err)
	}
	if ctx.Err() != nil {
		return schema.NewError(schema.ErrCodeCancelled, "execution cancelled: "+ctx.Err().Error()).WithCause(err)
	}
	if schema.ErrorCode(err) == "" {
		return schema.NewError(schema.ErrCodeRemoteExecution, err.Error()).WithCause(err)
	}
	return err
}

func (o *Orchestrator) summarize(ctx context.Context, res *flowclient.FlowdirResult) (Summary, error) {
	raw := res.Raw
	if len(raw) == 0 {
		b, err := json.Marshal(res.FlowdirResponse)
		if err != nil {
			return Summary{Dirs: len(res.CreatedPaths)}, err
		}
		raw = b
	}
	s, err := o.summarizer.Summarize(ctx, raw)
	if err != nil {
		return Summary{Dirs: len(res.CreatedPaths)}, err
	}
	return s, nil
}

func (o *Orchestrator) logResult(ctx context.Context, res *flowclient.FlowdirResult, s Summary) {
	o.log(ctx, fmt.Sprintf("FlowDir execution completed in %dms", res.ExecutionTime))
	o.log(ctx, fmt.Sprintf("Directories created: %d", s.Dirs))
	o.log(ctx, fmt.Sprintf("Files created: %d", s.Files))
	o.log(ctx, fmt.Sprintf("Symlinks created: %d", s.Symlinks))

	if n := len(res.CreatedPaths); n > 0 {
		o.log(ctx, "Created paths:")
		for _, path := range res.CreatedPaths[:min(n, MaxLoggedPaths)] {
			o.log(ctx, "  "+path)
		}
		if n > MaxLoggedPaths {
			o.log(ctx, fmt.Sprintf("  ... and %d more", n-MaxLoggedPaths))
		}
	}

	for _, id := range []struct{ label, value string }{
		{"Project", s.Project},
		{"Block", s.Block},
		{"Run", s.Run},
	} {
		if id.value != "" {
			o.log(ctx, id.label+": "+id.value)
		}
	}
}

func (o *Orchestrator) createAudit(ctx context.Context, p schema.FlowdirParameters) string {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.auditTimeout)
	defer cancel()
	id, err := o.backend.CreateAudit(actx, schema.AuditCreateRequest{FlowdirParameters: p, FlowID: o.flowID()})
	if err != nil {
		o.logger.WarnContext(ctx, "audit record not created, continuing without it", "error", err)
		return ""
	}
	return id
}

// updateAudit runs detached from ctx so a timed-out call still records its outcome.
func (o *Orchestrator) updateAudit(ctx context.Context, id string, req schema.AuditUpdateRequest) {
	if id == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.auditTimeout)
	defer cancel()
	if err := o.backend.UpdateAudit(actx, id, req); err != nil {
		o.logger.WarnContext(ctx, "audit record not updated", "audit_id", id, "error", err)
	}
}

func firstPositive(a, b int64) int64 {
	if a > 0 {
		return a
	}
	return b
}
