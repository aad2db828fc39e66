package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tensei-bridge/backend/internal/bridge"
	"github.com/tensei-bridge/backend/internal/chains"
	"github.com/tensei-bridge/backend/internal/config"
	"github.com/tensei-bridge/backend/internal/session"
)

var (
	// ErrBusy means a remote call is already outstanding for this
	// session. The caller should simply wait; state is untouched.
	ErrBusy = errors.New("operation already in flight")
	// ErrInvalidStep means the operation is not legal in the session's
	// current step. Defensive no-op: state is untouched.
	ErrInvalidStep = errors.New("operation not valid in current step")
	// ErrUnknownChain means the chain id is not in the registry.
	ErrUnknownChain = errors.New("unknown source chain")
	// ErrBadContract means the contract address fails the source
	// chain's format check.
	ErrBadContract = errors.New("malformed contract address")
)

// Orchestrator owns one migration session end to end: the state value,
// the transition table and the background pollers. All mutations are
// whole-state replacements committed under a single mutex; pollers
// carry a generation number and discard their result if the state has
// moved on underneath them.
type Orchestrator struct {
	mu    sync.Mutex
	cfg   config.WorkflowConfig
	live  bridge.Client
	demo  *bridge.OfflineClient // non-nil only when offline mode is enabled
	state *session.State

	notify func(*session.State)

	// gen invalidates in-flight poller results. Every cancellation
	// bumps it; a poller compares its snapshot before applying.
	gen          int
	statusCancel context.CancelFunc
	detectCancel context.CancelFunc
	simCancel    context.CancelFunc
}

// New builds an orchestrator for a fresh session. live may be nil when
// the deployment is offline-only; offline enables fallback synthesis
// when the live service is unreachable.
func New(id string, cfg config.WorkflowConfig, live bridge.Client, offline bool, notify func(*session.State)) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		live:   live,
		state:  session.New(id),
		notify: notify,
	}
	if offline {
		o.demo = bridge.NewOfflineClient()
	}
	return o
}

// State returns a snapshot of the session state.
func (o *Orchestrator) State() *session.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// commitLocked replaces the state value and notifies the observer with
// an independent snapshot. Caller holds o.mu.
func (o *Orchestrator) commitLocked(next *session.State) {
	next.UpdatedAt = time.Now()
	o.state = next
	if o.notify != nil {
		o.notify(next.Clone())
	}
}

// cancelPollersLocked tears down every background loop and invalidates
// results already in flight. Caller holds o.mu.
func (o *Orchestrator) cancelPollersLocked() {
	o.gen++
	if o.statusCancel != nil {
		o.statusCancel()
		o.statusCancel = nil
	}
	if o.detectCancel != nil {
		o.detectCancel()
		o.detectCancel = nil
	}
	if o.simCancel != nil {
		o.simCancel()
		o.simCancel = nil
	}
}

// Close stops all background work without resetting the state. Called
// when the owning session record is discarded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelPollersLocked()
}

// client returns the bridge the session talks to: the synthetic client
// for offline sessions, the live one otherwise.
func (o *Orchestrator) client(st *session.State) bridge.Client {
	if st.Offline && o.demo != nil {
		return o.demo
	}
	return o.live
}

// beginCallLocked validates the step precondition and flips Busy on.
// Returns the in-flight state snapshot and the current generation; the
// caller must compare the generation on re-lock and drop the result if
// it moved (a Reset while the call was awaiting the service). Caller
// holds o.mu.
func (o *Orchestrator) beginCallLocked(step session.Step) (*session.State, int, error) {
	st := o.state
	if st.Busy {
		return nil, 0, ErrBusy
	}
	if st.Step != step {
		return nil, 0, fmt.Errorf("%w: have %s, need %s", ErrInvalidStep, st.Step, step)
	}
	next := st.Clone()
	next.Busy = true
	next.Error = ""
	o.commitLocked(next)
	return next, o.gen, nil
}

// WalletConnected advances connect -> select_chain once a wallet is
// attached. Purely local.
func (o *Orchestrator) WalletConnected() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	if st.Step != session.StepConnect {
		return fmt.Errorf("%w: have %s, need %s", ErrInvalidStep, st.Step, session.StepConnect)
	}
	next := st.Clone()
	next.Step = session.StepSelectChain
	next.Error = ""
	o.commitLocked(next)
	return nil
}

// SelectChain creates a session with the migration service and moves
// to the payment step. When the service is unreachable and offline
// mode is enabled, a synthetic session is fabricated instead and the
// step still advances.
func (o *Orchestrator) SelectChain(ctx context.Context, chainID, walletAddr string) error {
	if _, ok := chains.Lookup(chainID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChain, chainID)
	}

	o.mu.Lock()
	inflight, gen, err := o.beginCallLocked(session.StepSelectChain)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	inflight = inflight.Clone()
	inflight.SourceChain = chainID
	inflight.WalletAddress = walletAddr
	o.commitLocked(inflight)
	sessionRecordID := inflight.ID
	o.mu.Unlock()

	var result bridge.CreateSessionResult
	var callErr error
	offline := false
	if o.live != nil {
		result, callErr = o.live.CreateSession(ctx, walletAddr, chainID)
	} else {
		callErr = errors.New("no migration service configured")
	}
	if callErr != nil && o.demo != nil {
		log.Printf("[%s] live session creation failed (%v), falling back to offline mode", sessionRecordID, callErr)
		result, callErr = o.demo.CreateSession(ctx, walletAddr, chainID)
		offline = callErr == nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		// A Reset got there first; the session this call belonged to is
		// gone, so the result is dropped on the floor.
		return nil
	}
	next := o.state.Clone()
	next.Busy = false
	if callErr != nil {
		next.Error = callErr.Error()
		o.commitLocked(next)
		return callErr
	}
	next.Step = session.StepPayment
	next.SessionID = result.SessionID
	next.PaymentAddress = result.PaymentAddress
	next.FeeAmount = result.FeeAmount
	next.Offline = offline
	o.commitLocked(next)
	return nil
}

// ConfirmPayment submits the payment proof, receives the one-time
// custody address and moves to the deposit step.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, paymentProof string) error {
	o.mu.Lock()
	inflight, gen, err := o.beginCallLocked(session.StepPayment)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	client := o.client(inflight)
	sessionID := inflight.SessionID
	o.mu.Unlock()

	result, callErr := client.ConfirmPayment(ctx, sessionID, paymentProof)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return nil
	}
	next := o.state.Clone()
	next.Busy = false
	if callErr != nil {
		next.Error = callErr.Error()
		o.commitLocked(next)
		return callErr
	}
	next.Step = session.StepDeposit
	next.DepositPhase = session.PhaseShowAddress
	next.CustodyID = result.CustodyID
	next.DepositAddress = result.DepositAddress
	o.commitLocked(next)
	return nil
}

// EnterContract moves deposit/show_address -> deposit/enter_contract.
// Purely local.
func (o *Orchestrator) EnterContract() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	if st.Step != session.StepDeposit || st.DepositPhase != session.PhaseShowAddress {
		return fmt.Errorf("%w: need deposit/show_address", ErrInvalidStep)
	}
	next := st.Clone()
	next.DepositPhase = session.PhaseEnterContract
	next.Error = ""
	o.commitLocked(next)
	return nil
}

// StartDetection begins polling the deposit address for assets under
// the given contract. Previous candidates are discarded and any prior
// detection loop is cancelled before the new one starts.
func (o *Orchestrator) StartDetection(contract string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	if st.Step != session.StepDeposit || st.DepositPhase != session.PhaseEnterContract {
		return fmt.Errorf("%w: need deposit/enter_contract", ErrInvalidStep)
	}
	if contract == "" {
		return ErrBadContract
	}
	if chain, ok := chains.Lookup(st.SourceChain); ok && chain.Family == chains.FamilyEVM && !chain.ValidAddress(contract) {
		return fmt.Errorf("%w: %q", ErrBadContract, contract)
	}

	o.cancelPollersLocked()
	next := st.Clone()
	next.DepositPhase = session.PhaseDetecting
	next.Contract = contract
	next.DetectedAssets = nil
	next.Error = ""
	o.commitLocked(next)
	o.startDetectLoopLocked(next.SessionID, contract)
	return nil
}

// SelectDetectedAsset confirms one of the detected candidates as the
// deposited asset.
func (o *Orchestrator) SelectDetectedAsset(ctx context.Context, asset session.Asset) error {
	return o.confirmDeposit(ctx, bridge.DepositClaim{Contract: asset.Contract, TokenID: asset.TokenID})
}

// ConfirmDepositManual confirms a deposit the detection loop never
// saw, for wallets the indexer lags behind.
func (o *Orchestrator) ConfirmDepositManual(ctx context.Context, contract, tokenID string) error {
	if contract == "" || tokenID == "" {
		return ErrBadContract
	}
	return o.confirmDeposit(ctx, bridge.DepositClaim{Contract: contract, TokenID: tokenID})
}

func (o *Orchestrator) confirmDeposit(ctx context.Context, claim bridge.DepositClaim) error {
	o.mu.Lock()
	inflight, gen, err := o.beginCallLocked(session.StepDeposit)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	client := o.client(inflight)
	sessionID := inflight.SessionID
	o.mu.Unlock()

	callErr := client.ConfirmDeposit(ctx, sessionID, claim)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return nil
	}
	next := o.state.Clone()
	next.Busy = false
	if callErr != nil {
		next.Error = callErr.Error()
		o.commitLocked(next)
		return callErr
	}
	o.cancelPollersLocked()
	next.Step = session.StepWaiting
	next.RemoteStatus = session.StatusVerifyingDeposit
	next.ClearDeposit()
	o.commitLocked(next)
	if !next.Offline {
		o.startStatusLoopLocked(next.SessionID)
	}
	return nil
}

// GoBack moves the session to its logical predecessor, cancelling any
// active poller and clearing step-local fields. Illegal from connect,
// waiting and complete.
func (o *Orchestrator) GoBack() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	if st.Busy {
		return ErrBusy
	}

	next := st.Clone()
	next.Error = ""

	switch st.Step {
	case session.StepSelectChain:
		next.Step = session.StepConnect
		next.SourceChain = ""
		next.WalletAddress = ""
	case session.StepPayment:
		next.Step = session.StepSelectChain
		next.SessionID = ""
		next.PaymentAddress = ""
		next.FeeAmount = 0
		next.Offline = false
	case session.StepDeposit:
		switch st.DepositPhase {
		case session.PhaseFound, session.PhaseDetecting:
			o.cancelPollersLocked()
			next.DepositPhase = session.PhaseEnterContract
			next.DetectedAssets = nil
		case session.PhaseEnterContract:
			next.DepositPhase = session.PhaseShowAddress
			next.Contract = ""
		case session.PhaseShowAddress:
			next.Step = session.StepPayment
			next.CustodyID = ""
			next.DepositAddress = ""
			next.ClearDeposit()
		default:
			return fmt.Errorf("%w: deposit phase %s", ErrInvalidStep, st.DepositPhase)
		}
	default:
		return fmt.Errorf("%w: no predecessor for %s", ErrInvalidStep, st.Step)
	}

	o.commitLocked(next)
	return nil
}

// Reset cancels everything and returns the session to the initial
// connect state. Always legal.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelPollersLocked()
	fresh := session.New(o.state.ID)
	fresh.CreatedAt = o.state.CreatedAt
	o.commitLocked(fresh)
}
