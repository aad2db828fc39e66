package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tensei-bridge/backend/internal/chains"
	"github.com/tensei-bridge/backend/internal/session"
)

// defaultOfflineFee is the synthesized gating fee in the destination
// chain's base units (lamport-scale, matches the live service default).
const defaultOfflineFee = 10_000_000

// OfflineClient fabricates migration-service responses locally. It is
// used when the deployment has no backend configured (demo mode): every
// call succeeds with plausible data shaped like the live service's, and
// nothing ever touches the network.
type OfflineClient struct {
	mu       sync.Mutex
	sessions map[string]*offlineSession
}

type offlineSession struct {
	chain   chains.Chain
	status  session.RemoteStatus
	deposit DepositClaim
}

func NewOfflineClient() *OfflineClient {
	return &OfflineClient{sessions: make(map[string]*offlineSession)}
}

func (c *OfflineClient) CreateSession(_ context.Context, _, sourceChain string) (CreateSessionResult, error) {
	chain, ok := chains.Lookup(sourceChain)
	if !ok {
		return CreateSessionResult{}, fmt.Errorf("unknown source chain %q", sourceChain)
	}
	payAddr, err := chain.RandomAddress()
	if err != nil {
		return CreateSessionResult{}, err
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.sessions[id] = &offlineSession{chain: chain, status: session.StatusAwaitingPayment}
	c.mu.Unlock()

	return CreateSessionResult{
		SessionID:      id,
		PaymentAddress: payAddr,
		FeeAmount:      defaultOfflineFee,
	}, nil
}

func (c *OfflineClient) ConfirmPayment(_ context.Context, sessionID, _ string) (ConfirmPaymentResult, error) {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return ConfirmPaymentResult{}, err
	}
	depositAddr, err := sess.chain.RandomAddress()
	if err != nil {
		return ConfirmPaymentResult{}, err
	}

	c.mu.Lock()
	sess.status = session.StatusWaitingDeposit
	c.mu.Unlock()

	return ConfirmPaymentResult{
		CustodyID:      uuid.NewString(),
		DepositAddress: depositAddr,
	}, nil
}

func (c *OfflineClient) ConfirmDeposit(_ context.Context, sessionID string, deposit DepositClaim) error {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	sess.deposit = deposit
	sess.status = session.StatusVerifyingDeposit
	c.mu.Unlock()
	return nil
}

// DetectAssets always finds exactly one asset on the first ask, so the
// demo flow never stalls in the detecting phase.
func (c *OfflineClient) DetectAssets(_ context.Context, sessionID, contract string) ([]session.Asset, error) {
	if _, err := c.lookup(sessionID); err != nil {
		return nil, err
	}
	return []session.Asset{{
		Contract: contract,
		TokenID:  "1",
		Name:     "Demo Asset #1",
	}}, nil
}

func (c *OfflineClient) GetStatus(_ context.Context, sessionID string) (StatusResult, error) {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return StatusResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatusResult{Status: sess.status}, nil
}

func (c *OfflineClient) lookup(sessionID string) (*offlineSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	return sess, nil
}
