package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tensei-bridge/backend/internal/config"
	"github.com/tensei-bridge/backend/internal/orchestrator"
	"github.com/tensei-bridge/backend/internal/session"
	"github.com/tensei-bridge/backend/internal/ws"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Bridge.Offline = true
	cfg.Bridge.URL = ""
	cfg.Workflow.StatusPollInterval = 10 * time.Millisecond
	cfg.Workflow.DetectPollInterval = 5 * time.Millisecond
	cfg.Workflow.SimulateStepDelay = 5 * time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, pinger Pinger) (*httptest.Server, *orchestrator.Manager) {
	t.Helper()

	manager := orchestrator.NewManager(cfg, nil, nil)
	t.Cleanup(manager.Close)

	b := ws.NewBroadcaster(manager, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval, cfg.Server.MaxWSConnections)
	t.Cleanup(b.Stop)

	mux := http.NewServeMux()
	NewServer(cfg, manager, b, pinger).SetupRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func decodeState(t *testing.T, data []byte) *session.State {
	t.Helper()
	var st session.State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode state %q: %v", data, err)
	}
	return &st
}

func TestCreateGetDeleteSession(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, body)
	}
	st := decodeState(t, body)
	if st.Step != session.StepConnect {
		t.Errorf("new session step = %s, want %s", st.Step, session.StepConnect)
	}
	if st.ID == "" {
		t.Fatal("new session has empty id")
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+st.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, body %s", resp.StatusCode, body)
	}
	if got := decodeState(t, body); got.ID != st.ID {
		t.Errorf("get returned id %s, want %s", got.ID, st.ID)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []*session.State
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list returned %d sessions, want 1", len(list))
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+st.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+st.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// TestOperationFlow drives a full offline migration through the HTTP
// API: connect, chain, payment, contract entry, detection, deposit and
// simulated progress to completion.
func TestOperationFlow(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	id := decodeState(t, body).ID
	base := srv.URL + "/api/v1/sessions/" + id

	post := func(op string, req interface{}, wantStep session.Step) *session.State {
		t.Helper()
		resp, body := doJSON(t, http.MethodPost, base+"/"+op, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, body %s", op, resp.StatusCode, body)
		}
		st := decodeState(t, body)
		if st.Step != wantStep {
			t.Fatalf("after %s step = %s, want %s", op, st.Step, wantStep)
		}
		return st
	}

	post("connect", nil, session.StepSelectChain)

	st := post("chain", map[string]string{"chain": "near", "walletAddress": "alice.near"}, session.StepPayment)
	if !st.Offline {
		t.Fatal("expected offline fallback session")
	}
	if st.PaymentAddress == "" {
		t.Error("payment step without payment address")
	}

	st = post("payment", map[string]string{"paymentProof": "tx1"}, session.StepDeposit)
	if st.DepositPhase != session.PhaseShowAddress {
		t.Fatalf("deposit phase = %s, want %s", st.DepositPhase, session.PhaseShowAddress)
	}

	post("contract", nil, session.StepDeposit)
	post("detect", map[string]string{"contract": "nft.collection.near"}, session.StepDeposit)

	// Detection runs in the background; wait for candidates.
	deadline := time.Now().Add(2 * time.Second)
	var found *session.State
	for time.Now().Before(deadline) {
		_, body := doJSON(t, http.MethodGet, base, nil)
		st := decodeState(t, body)
		if st.DepositPhase == session.PhaseFound && len(st.DetectedAssets) > 0 {
			found = st
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if found == nil {
		t.Fatal("detection never found assets")
	}

	asset := found.DetectedAssets[0]
	post("deposit", map[string]string{"contract": asset.Contract, "tokenId": asset.TokenID}, session.StepWaiting)

	resp, body := doJSON(t, http.MethodPost, base+"/simulate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("simulate status = %d, body %s", resp.StatusCode, body)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := doJSON(t, http.MethodGet, base, nil)
		st := decodeState(t, body)
		if st.Step == session.StepComplete {
			if st.ResultAsset == nil {
				t.Fatal("complete without result asset")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("simulated migration never completed")
}

func TestOperationErrors(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	id := decodeState(t, body).ID
	base := srv.URL + "/api/v1/sessions/" + id

	tests := []struct {
		name string
		op   string
		req  interface{}
		want int
	}{
		{"WrongStep", "payment", nil, http.StatusConflict},
		{"UnknownChain", "chain", map[string]string{"chain": "dogecoin"}, http.StatusBadRequest},
		{"UnknownOp", "teleport", nil, http.StatusNotFound},
		{"BackFromConnect", "back", nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, base+"/"+tt.op, tt.req)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			var envelope map[string]string
			if err := json.Unmarshal(body, &envelope); err != nil || envelope["error"] == "" {
				t.Errorf("expected error envelope, got %s", body)
			}
		})
	}
}

func TestResetAlwaysAllowed(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	id := decodeState(t, body).ID

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	if st := decodeState(t, body); st.Step != session.StepConnect {
		t.Errorf("after reset step = %s, want %s", st.Step, session.StepConnect)
	}
}

func TestChainsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/chains", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) == 0 {
		t.Fatal("chain registry came back empty")
	}
}

func TestAuthToken(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AuthToken = "sekrit"
	srv, _ := newTestServer(t, cfg, nil)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", resp2.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions?token=sekrit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token status = %d, want 200", resp.StatusCode)
	}
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantBridge string
		wantStatus string
	}{
		{"Offline", nil, "offline", "ok"},
		{"BridgeUp", &fakePinger{}, "ok", "ok"},
		{"BridgeDown", &fakePinger{err: errors.New("connection refused")}, "unreachable", "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, testConfig(), tt.pinger)

			resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/health", nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}

			var health struct {
				Status string `json:"status"`
				Bridge string `json:"bridge"`
			}
			if err := json.Unmarshal(body, &health); err != nil {
				t.Fatal(err)
			}
			if health.Bridge != tt.wantBridge {
				t.Errorf("bridge = %q, want %q", health.Bridge, tt.wantBridge)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", health.Status, tt.wantStatus)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	id := decodeState(t, body).ID

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/v1/sessions/"+id+"/connect", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("PUT operation status = %d, want 405", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/chains", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE chains status = %d, want 405", resp.StatusCode)
	}
}
