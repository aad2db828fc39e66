package bridge

import (
	"context"
	"sync"

	"github.com/tensei-bridge/backend/internal/session"
)

// FakeClient is a scriptable Client for tests. Each hook, when set,
// handles the corresponding call; unset hooks return zero values. Call
// counts are tracked per method so tests can assert polling cadence.
type FakeClient struct {
	mu    sync.Mutex
	calls map[string]int

	CreateSessionFn  func(walletAddress, sourceChain string) (CreateSessionResult, error)
	ConfirmPaymentFn func(sessionID, paymentProof string) (ConfirmPaymentResult, error)
	ConfirmDepositFn func(sessionID string, deposit DepositClaim) error
	DetectAssetsFn   func(sessionID, contract string, attempt int) ([]session.Asset, error)
	GetStatusFn      func(sessionID string, attempt int) (StatusResult, error)
}

func NewFakeClient() *FakeClient {
	return &FakeClient{calls: make(map[string]int)}
}

// Calls returns how many times the named method has been invoked.
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeClient) bump(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.calls[method]
}

func (f *FakeClient) CreateSession(_ context.Context, walletAddress, sourceChain string) (CreateSessionResult, error) {
	f.bump("CreateSession")
	if f.CreateSessionFn != nil {
		return f.CreateSessionFn(walletAddress, sourceChain)
	}
	return CreateSessionResult{}, nil
}

func (f *FakeClient) ConfirmPayment(_ context.Context, sessionID, paymentProof string) (ConfirmPaymentResult, error) {
	f.bump("ConfirmPayment")
	if f.ConfirmPaymentFn != nil {
		return f.ConfirmPaymentFn(sessionID, paymentProof)
	}
	return ConfirmPaymentResult{}, nil
}

func (f *FakeClient) ConfirmDeposit(_ context.Context, sessionID string, deposit DepositClaim) error {
	f.bump("ConfirmDeposit")
	if f.ConfirmDepositFn != nil {
		return f.ConfirmDepositFn(sessionID, deposit)
	}
	return nil
}

func (f *FakeClient) DetectAssets(_ context.Context, sessionID, contract string) ([]session.Asset, error) {
	attempt := f.bump("DetectAssets")
	if f.DetectAssetsFn != nil {
		return f.DetectAssetsFn(sessionID, contract, attempt)
	}
	return nil, nil
}

func (f *FakeClient) GetStatus(_ context.Context, sessionID string) (StatusResult, error) {
	attempt := f.bump("GetStatus")
	if f.GetStatusFn != nil {
		return f.GetStatusFn(sessionID, attempt)
	}
	return StatusResult{Status: session.StatusVerifyingDeposit}, nil
}
