package orchestrator

import (
	"testing"
	"time"

	"github.com/tensei-bridge/backend/internal/config"
	"github.com/tensei-bridge/backend/internal/session"
)

func testManagerConfig() *config.Config {
	cfg := config.Default()
	cfg.Workflow = testWorkflowConfig()
	return cfg
}

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(testManagerConfig(), happyFake(), nil)
	t.Cleanup(m.Close)

	o := m.Create()
	id := o.State().ID
	if id == "" {
		t.Fatal("created session has no id")
	}

	got, ok := m.Get(id)
	if !ok || got != o {
		t.Errorf("Get(%s) = %v, %v", id, got, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get of unknown id succeeded")
	}
}

func TestManagerStates(t *testing.T) {
	m := NewManager(testManagerConfig(), happyFake(), nil)
	t.Cleanup(m.Close)

	a := m.Create()
	b := m.Create()
	if a.State().ID == b.State().ID {
		t.Fatal("sessions share an id")
	}

	states := m.States()
	if len(states) != 2 {
		t.Fatalf("States() has %d entries, want 2", len(states))
	}
	for _, st := range states {
		if st.Step != session.StepConnect {
			t.Errorf("fresh session in step %s", st.Step)
		}
	}
}

func TestManagerRemoveStopsPolling(t *testing.T) {
	f := happyFake()
	f.DetectAssetsFn = func(_, _ string, _ int) ([]session.Asset, error) {
		return nil, nil
	}
	m := NewManager(testManagerConfig(), f, nil)
	t.Cleanup(m.Close)

	o := m.Create()
	driveToDeposit(t, o)
	o.EnterContract()
	if err := o.StartDetection(testContract); err != nil {
		t.Fatalf("StartDetection: %v", err)
	}

	m.Remove(o.State().ID)
	if _, ok := m.Get(o.State().ID); ok {
		t.Error("session still retrievable after Remove")
	}

	calls := f.Calls("DetectAssets")
	time.Sleep(10 * testWorkflowConfig().DetectPollInterval)
	if after := f.Calls("DetectAssets"); after != calls {
		t.Errorf("removed session kept polling: %d -> %d", calls, after)
	}
}
