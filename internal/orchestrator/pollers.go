package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tensei-bridge/backend/internal/bridge"
	"github.com/tensei-bridge/backend/internal/chains"
	"github.com/tensei-bridge/backend/internal/session"
)

// startStatusLoopLocked launches the waiting-step status poller.
// Caller holds o.mu. Never called for offline sessions.
func (o *Orchestrator) startStatusLoopLocked(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.statusCancel = cancel
	go o.statusLoop(ctx, o.gen, sessionID)
}

// statusLoop probes the migration service immediately and then on a
// fixed interval until a terminal status arrives or the loop is
// cancelled. Transient failures are swallowed; only a long run of
// consecutive failures surfaces an error.
func (o *Orchestrator) statusLoop(ctx context.Context, gen int, sessionID string) {
	ticker := time.NewTicker(o.cfg.StatusPollInterval)
	defer ticker.Stop()

	silent := 0
	for {
		result, err := o.live.GetStatus(ctx, sessionID)
		if o.applyStatus(gen, result, err, &silent) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// applyStatus folds one poll result into the state. Returns true when
// the loop should stop. The generation check discards results whose
// request was in flight when a user action cancelled the loop.
func (o *Orchestrator) applyStatus(gen int, result bridge.StatusResult, err error, silent *int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen || o.state.Step != session.StepWaiting {
		return true
	}

	if err != nil {
		*silent++
		if o.cfg.StatusMaxSilent > 0 && *silent >= o.cfg.StatusMaxSilent {
			next := o.state.Clone()
			next.Error = fmt.Sprintf("migration service unreachable for %d consecutive polls; reset to start over", *silent)
			o.commitLocked(next)
			o.stopStatusLocked()
			return true
		}
		return false
	}
	*silent = 0

	next := o.state.Clone()
	switch result.Status {
	case session.StatusComplete:
		next.Step = session.StepComplete
		next.RemoteStatus = session.StatusComplete
		if result.ResultAsset != nil {
			a := *result.ResultAsset
			next.ResultAsset = &a
		} else {
			// Service omitted the descriptor; keep the step invariant.
			next.ResultAsset = &session.Asset{}
		}
		o.commitLocked(next)
		o.stopStatusLocked()
		log.Printf("[%s] migration complete", next.ID)
		return true
	case session.StatusError:
		msg := result.ErrorMessage
		if msg == "" {
			msg = "migration failed"
		}
		// Fail stop: the session stays in waiting until the user
		// resets. Resuming a failed signing ceremony automatically is
		// unsafe.
		next.RemoteStatus = session.StatusError
		next.Error = msg
		o.commitLocked(next)
		o.stopStatusLocked()
		log.Printf("[%s] migration failed: %s", next.ID, msg)
		return true
	case "":
		return false
	default:
		next.RemoteStatus = result.Status
		o.commitLocked(next)
		return false
	}
}

func (o *Orchestrator) stopStatusLocked() {
	if o.statusCancel != nil {
		o.statusCancel()
		o.statusCancel = nil
	}
}

// startDetectLoopLocked launches the deposit-detection poller for the
// given contract. Caller holds o.mu.
func (o *Orchestrator) startDetectLoopLocked(sessionID, contract string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.detectCancel = cancel
	client := o.client(o.state)
	go o.detectLoop(ctx, o.gen, client, sessionID, contract)
}

// detectLoop asks the service for assets at the deposit address under
// the contract, once per interval, within a fixed attempt budget.
// Empty results and transport failures both consume an attempt.
func (o *Orchestrator) detectLoop(ctx context.Context, gen int, client bridge.Client, sessionID, contract string) {
	ticker := time.NewTicker(o.cfg.DetectPollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		assets, err := client.DetectAssets(ctx, sessionID, contract)
		if o.applyDetection(gen, contract, assets, err, attempt) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) applyDetection(gen int, contract string, assets []session.Asset, err error, attempt int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen {
		return true
	}
	st := o.state
	if st.Step != session.StepDeposit || st.DepositPhase != session.PhaseDetecting {
		return true
	}

	if err == nil && len(assets) > 0 {
		next := st.Clone()
		next.DetectedAssets = append([]session.Asset(nil), assets...)
		next.DepositPhase = session.PhaseFound
		o.commitLocked(next)
		o.stopDetectLocked()
		return true
	}

	if attempt >= o.cfg.DetectMaxAttempts {
		next := st.Clone()
		next.DepositPhase = session.PhaseEnterContract
		next.Error = fmt.Sprintf("no assets found at the deposit address for contract %s after %d checks; verify the contract and try again", contract, attempt)
		o.commitLocked(next)
		o.stopDetectLocked()
		return true
	}
	return false
}

func (o *Orchestrator) stopDetectLocked() {
	if o.detectCancel != nil {
		o.detectCancel()
		o.detectCancel = nil
	}
}

// SimulateProgress walks an offline session's remote status through
// the full completion sequence on fixed delays, ending in a canned
// minted asset. No-op if a simulation is already running.
func (o *Orchestrator) SimulateProgress() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	if !st.Offline {
		return fmt.Errorf("%w: simulation requires an offline session", ErrInvalidStep)
	}
	if st.Step != session.StepWaiting {
		return fmt.Errorf("%w: have %s, need %s", ErrInvalidStep, st.Step, session.StepWaiting)
	}
	if o.simCancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.simCancel = cancel
	go o.simulateLoop(ctx, o.gen)
	return nil
}

func (o *Orchestrator) simulateLoop(ctx context.Context, gen int) {
	for _, status := range session.ProgressSequence {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.SimulateStepDelay):
		}

		o.mu.Lock()
		if gen != o.gen {
			o.mu.Unlock()
			return
		}
		next := o.state.Clone()
		if status == session.StatusComplete {
			next.Step = session.StepComplete
			next.RemoteStatus = status
			next.ResultAsset = o.cannedResult()
			o.stopSimLocked()
			o.commitLocked(next)
			o.mu.Unlock()
			return
		}
		next.RemoteStatus = status
		o.commitLocked(next)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) stopSimLocked() {
	if o.simCancel != nil {
		o.simCancel()
		o.simCancel = nil
	}
}

// cannedResult fabricates a destination-chain asset for simulated
// completions. The mint lives on the destination ledger, so it always
// takes the base58 shape.
func (o *Orchestrator) cannedResult() *session.Asset {
	mint := "demo-mint"
	if chain, ok := chains.Lookup("solana"); ok {
		if addr, err := chain.RandomAddress(); err == nil {
			mint = addr
		}
	}
	return &session.Asset{
		Contract: mint,
		TokenID:  "1",
		Name:     "Demo Asset #1",
	}
}
