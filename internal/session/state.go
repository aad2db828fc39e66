package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step is the top-level stage of a migration session.
type Step int

const (
	StepConnect Step = iota
	StepSelectChain
	StepPayment
	StepDeposit
	StepWaiting
	StepComplete
)

var stepNames = map[Step]string{
	StepConnect:     "connect",
	StepSelectChain: "select_chain",
	StepPayment:     "payment",
	StepDeposit:     "deposit",
	StepWaiting:     "waiting",
	StepComplete:    "complete",
}

var stepFromName = map[string]Step{
	"connect":      StepConnect,
	"select_chain": StepSelectChain,
	"payment":      StepPayment,
	"deposit":      StepDeposit,
	"waiting":      StepWaiting,
	"complete":     StepComplete,
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stepFromName[name]; ok {
		*s = v
	}
	return nil
}

// DepositPhase is the sub-stage within StepDeposit. PhaseNone is used
// whenever the session is not in the deposit step.
type DepositPhase int

const (
	PhaseNone DepositPhase = iota
	PhaseShowAddress
	PhaseEnterContract
	PhaseDetecting
	PhaseFound
)

var phaseNames = map[DepositPhase]string{
	PhaseNone:          "",
	PhaseShowAddress:   "show_address",
	PhaseEnterContract: "enter_contract",
	PhaseDetecting:     "detecting",
	PhaseFound:         "found",
}

var phaseFromName = map[string]DepositPhase{
	"":               PhaseNone,
	"show_address":   PhaseShowAddress,
	"enter_contract": PhaseEnterContract,
	"detecting":      PhaseDetecting,
	"found":          PhaseFound,
}

func (p DepositPhase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return "unknown"
}

func (p DepositPhase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *DepositPhase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := phaseFromName[name]; ok {
		*p = v
	}
	return nil
}

// RemoteStatus is the workflow status reported by the migration service
// while the destination mint is in flight.
type RemoteStatus string

const (
	StatusAwaitingPayment   RemoteStatus = "awaiting_payment"
	StatusPaymentConfirmed  RemoteStatus = "payment_confirmed"
	StatusCreatingCustody   RemoteStatus = "creating_custody"
	StatusWaitingDeposit    RemoteStatus = "waiting_deposit"
	StatusVerifyingDeposit  RemoteStatus = "verifying_deposit"
	StatusUploadingMetadata RemoteStatus = "uploading_metadata"
	StatusCreatingRecord    RemoteStatus = "creating_record"
	StatusSigning           RemoteStatus = "signing"
	StatusMinting           RemoteStatus = "minting"
	StatusComplete          RemoteStatus = "complete"
	StatusError             RemoteStatus = "error"
)

// ProgressSequence is the order of statuses a healthy migration walks
// through after deposit confirmation. The offline simulator replays it.
var ProgressSequence = []RemoteStatus{
	StatusVerifyingDeposit,
	StatusUploadingMetadata,
	StatusCreatingRecord,
	StatusSigning,
	StatusMinting,
	StatusComplete,
}

func (r RemoteStatus) Terminal() bool {
	return r == StatusComplete || r == StatusError
}

// Asset describes an NFT either detected at the deposit address or
// minted on the destination chain.
type Asset struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// State is one migration session's full client-observable state. It is
// immutable by convention: mutations clone, edit the clone, and commit
// the whole value back under the orchestrator's lock.
type State struct {
	ID             string       `json:"id"`
	Step           Step         `json:"step"`
	SourceChain    string       `json:"sourceChain,omitempty"`
	WalletAddress  string       `json:"walletAddress,omitempty"`
	SessionID      string       `json:"sessionId,omitempty"`
	Offline        bool         `json:"offline,omitempty"`
	PaymentAddress string       `json:"paymentAddress,omitempty"`
	FeeAmount      uint64       `json:"feeAmount,omitempty"`
	CustodyID      string       `json:"custodyId,omitempty"`
	DepositAddress string       `json:"depositAddress,omitempty"`
	DepositPhase   DepositPhase `json:"depositPhase,omitempty"`
	Contract       string       `json:"contract,omitempty"`
	DetectedAssets []Asset      `json:"detectedAssets,omitempty"`
	RemoteStatus   RemoteStatus `json:"remoteStatus,omitempty"`
	ResultAsset    *Asset       `json:"resultAsset,omitempty"`
	Error          string       `json:"error,omitempty"`
	Busy           bool         `json:"busy,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// New returns a session in the initial connect state.
func New(id string) *State {
	now := time.Now()
	return &State{
		ID:        id,
		Step:      StepConnect,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the State, duplicating slice and pointer
// fields so the copy can be mutated independently of the original.
func (s *State) Clone() *State {
	c := *s
	if len(s.DetectedAssets) > 0 {
		c.DetectedAssets = make([]Asset, len(s.DetectedAssets))
		copy(c.DetectedAssets, s.DetectedAssets)
	}
	if s.ResultAsset != nil {
		a := *s.ResultAsset
		c.ResultAsset = &a
	}
	return &c
}

// ClearDeposit drops the fields that are only meaningful inside the
// deposit step. Called on every transition that leaves StepDeposit.
func (s *State) ClearDeposit() {
	s.DepositPhase = PhaseNone
	s.Contract = ""
	s.DetectedAssets = nil
}

func (s *State) Terminal() bool {
	return s.Step == StepComplete
}

// Validate checks the per-step field preconditions. A State produced by
// the orchestrator's transition table always passes.
func (s *State) Validate() error {
	switch s.Step {
	case StepConnect:
		if s.SessionID != "" {
			return fmt.Errorf("connect step carries a session id")
		}
	case StepSelectChain:
		// No session yet. SourceChain may linger from a failed attempt,
		// in which case Error explains why the step did not advance.
	case StepPayment:
		if s.SessionID == "" || s.PaymentAddress == "" {
			return fmt.Errorf("payment step requires sessionId and paymentAddress")
		}
	case StepDeposit:
		if s.DepositAddress == "" {
			return fmt.Errorf("deposit step requires depositAddress")
		}
		if s.DepositPhase == PhaseNone {
			return fmt.Errorf("deposit step requires a deposit phase")
		}
	case StepWaiting:
		if s.SessionID == "" {
			return fmt.Errorf("waiting step requires sessionId")
		}
	case StepComplete:
		if s.ResultAsset == nil {
			return fmt.Errorf("complete step requires resultAsset")
		}
	}
	if s.Step != StepDeposit {
		if s.DepositPhase != PhaseNone || len(s.DetectedAssets) > 0 {
			return fmt.Errorf("deposit fields set outside deposit step")
		}
	}
	return nil
}
