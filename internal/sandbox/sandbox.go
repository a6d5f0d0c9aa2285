// Package sandbox executes jobs on the provider side. Runner is the seam for
// real isolation backends (containers, wasm); LocalRunner dispatches to
// registered in-process handlers and is what tests and single-node
// deployments use.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// Handler executes one program against an input payload.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, []string, error)

// Runner executes a job's program and reports the outcome. Run returns an
// error only for infrastructure failures; program failures are reported in
// the result with Success=false.
type Runner interface {
	Run(ctx context.Context, job *types.Job) (*types.ExecutionResult, error)
	ProgramBytes(programRef string) ([]byte, error)
}

// LocalRunner executes programs registered under their programRef.
type LocalRunner struct {
	selfID string

	mu       sync.RWMutex
	handlers map[string]Handler
	programs map[string][]byte
}

// NewLocalRunner creates a runner that reports selfID as the executing peer.
func NewLocalRunner(selfID string) *LocalRunner {
	return &LocalRunner{
		selfID:   selfID,
		handlers: make(map[string]Handler),
		programs: make(map[string][]byte),
	}
}

// Register installs a handler for a programRef. The program bytes are what
// proofs commit to; logically different programs must register different bytes.
func (r *LocalRunner) Register(programRef string, program []byte, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[programRef] = h
	r.programs[programRef] = program
}

// ProgramBytes returns the registered program source for proof commitments.
func (r *LocalRunner) ProgramBytes(programRef string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[programRef]
	if !ok {
		return nil, fmt.Errorf("unknown program %q", programRef)
	}
	return p, nil
}

// Run executes the job's program. Options are enforced best-effort: the
// timeout bounds wall time via the context; memory and instruction caps are
// advisory for in-process handlers.
func (r *LocalRunner) Run(ctx context.Context, job *types.Job) (*types.ExecutionResult, error) {
	r.mu.RLock()
	h, ok := r.handlers[job.ProgramRef]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown program %q", job.ProgramRef)
	}

	if job.Options != nil && job.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Options.Timeout)
		defer cancel()
	}

	started := time.Now()
	output, logs, err := h(ctx, job.Input)
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		return &types.ExecutionResult{
			Success:         false,
			Logs:            logs,
			Error:           err.Error(),
			ExecutionTimeMs: elapsed,
			PeerID:          r.selfID,
		}, nil
	}

	return &types.ExecutionResult{
		Success:         true,
		Output:          output,
		Logs:            logs,
		ExecutionTimeMs: elapsed,
		PeerID:          r.selfID,
	}, nil
}

var _ Runner = (*LocalRunner)(nil)
