package bridge

import (
	"context"

	"github.com/tensei-bridge/backend/internal/session"
)

// Client abstracts the remote migration service that verifies payments,
// issues custody addresses, relays metadata and mints on the
// destination chain. The orchestrator never talks to the network
// except through this interface.
type Client interface {
	CreateSession(ctx context.Context, walletAddress, sourceChain string) (CreateSessionResult, error)
	ConfirmPayment(ctx context.Context, sessionID, paymentProof string) (ConfirmPaymentResult, error)
	ConfirmDeposit(ctx context.Context, sessionID string, deposit DepositClaim) error
	DetectAssets(ctx context.Context, sessionID, contract string) ([]session.Asset, error)
	GetStatus(ctx context.Context, sessionID string) (StatusResult, error)
}

type CreateSessionResult struct {
	SessionID      string `json:"sessionId"`
	PaymentAddress string `json:"paymentAddress"`
	FeeAmount      uint64 `json:"feeAmount"`
}

type ConfirmPaymentResult struct {
	CustodyID      string `json:"custodyId"`
	DepositAddress string `json:"depositAddress"`
}

// DepositClaim identifies the asset the user says they sent to the
// custody address. Proof is optional and chain specific.
type DepositClaim struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
	Proof    string `json:"proof,omitempty"`
}

type StatusResult struct {
	Status       session.RemoteStatus `json:"status"`
	ResultAsset  *session.Asset       `json:"resultAsset,omitempty"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
}
