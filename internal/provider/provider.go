// Package provider runs the supply side of the marketplace: it accepts
// inbound compute requests, executes them in the sandbox, attaches receipts
// and proofs when the requester asks for them, and returns the result.
package provider

import (
	"context"
	"time"

	"github.com/abyssgrid/gridmarket/internal/proof"
	"github.com/abyssgrid/gridmarket/internal/receipt"
	"github.com/abyssgrid/gridmarket/internal/registry"
	"github.com/abyssgrid/gridmarket/internal/rewards"
	"github.com/abyssgrid/gridmarket/internal/sandbox"
	"github.com/abyssgrid/gridmarket/internal/transport"
	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

// Worker executes jobs dispatched by peers.
type Worker struct {
	transport transport.Transport
	runner    sandbox.Runner
	receipts  *receipt.Generator
	prover    proof.Backend
	rewards   *rewards.Aggregator
	registry  *registry.Registry
	log       *logger.Logger
}

// NewWorker wires a worker into the transport's inbound request stream.
func NewWorker(
	tr transport.Transport,
	runner sandbox.Runner,
	receipts *receipt.Generator,
	prover proof.Backend,
	rew *rewards.Aggregator,
	reg *registry.Registry,
	log *logger.Logger,
) *Worker {
	w := &Worker{
		transport: tr,
		runner:    runner,
		receipts:  receipts,
		prover:    prover,
		rewards:   rew,
		registry:  reg,
		log:       log,
	}
	tr.OnRequest(w.HandleRequest)
	return w
}

// HandleRequest executes one inbound job and returns the result to the
// requester. Failures execute to a failed result, never a dropped request.
func (w *Worker) HandleRequest(ctx context.Context, from string, req *types.ComputeRequest) {
	if req == nil || req.Job == nil {
		return
	}

	result := w.execute(ctx, req.Job)

	resp := &types.ComputeResponse{RequestID: req.RequestID, Result: result}
	if err := w.transport.SendResponse(ctx, from, resp); err != nil {
		w.log.Error("failed to return compute response",
			"request_id", req.RequestID, "requester", from, "error", err.Error())
	}
}

func (w *Worker) execute(ctx context.Context, job *types.Job) *types.ExecutionResult {
	selfID := w.transport.SelfID()
	started := time.Now()

	result, err := w.runner.Run(ctx, job)
	if err != nil {
		result = &types.ExecutionResult{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(started).Milliseconds(),
			PeerID:          selfID,
		}
	}

	var successDelta uint64
	if result.Success {
		successDelta = 1
	}
	if err := w.registry.ApplyStatsUpdate(ctx, selfID, 1, successDelta); err != nil {
		w.log.Error("failed to update job stats", "peer_id", selfID, "error", err.Error())
	}

	if result.Success && job.Options != nil && job.Options.RequireReceipt {
		w.attachReceipt(ctx, job, result)
	}
	return result
}

// attachReceipt proves the execution and binds a receipt to the result. A
// proving failure degrades to an unproven receipt rather than failing the job.
func (w *Worker) attachReceipt(ctx context.Context, job *types.Job, result *types.ExecutionResult) {
	var prf *types.Proof
	program, err := w.runner.ProgramBytes(job.ProgramRef)
	if err == nil {
		prf, err = w.prover.Prove(program, job.Input, result.Output)
	}
	if err != nil {
		w.log.Warn("proof generation failed, issuing unproven receipt",
			"job_id", job.JobID, "error", err.Error())
		prf = nil
	}

	rcpt, err := w.receipts.Generate(
		job.JobID, job.Input, result.Output, result.Logs,
		result.ExecutionTimeMs, w.transport.SelfID(), 0, prf)
	if err != nil {
		w.log.Error("receipt generation failed", "job_id", job.JobID, "error", err.Error())
		return
	}

	if _, err := w.rewards.RecordReceipt(ctx, rcpt, prf, result.Output); err != nil {
		w.log.Error("receipt recording failed", "receipt_id", rcpt.ReceiptID, "error", err.Error())
	}
	result.Receipt = rcpt
}
