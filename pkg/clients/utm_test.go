package clients

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUTM is a minimal in-memory UTM service for client tests.
type fakeUTM struct {
	mu    sync.Mutex
	plans map[string]*PlanResponse
	// stateAfter lets a test script state transitions on repeated GETs.
	getCount map[string]int
	promote  map[string]string // plan id -> state to report after 2 GETs
}

func newFakeUTM() *fakeUTM {
	return &fakeUTM{
		plans:    map[string]*PlanResponse{},
		getCount: map[string]int{},
		promote:  map[string]string{},
	}
}

func (f *fakeUTM) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /plans", func(w http.ResponseWriter, r *http.Request) {
		var plan map[string]any
		if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		id := "plan-1"
		resp := &PlanResponse{ID: id, State: PlanStateAccepted, Plan: plan}
		f.plans[id] = resp
		f.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /plans/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		f.transition(w, r.PathValue("id"), PlanStateActivated)
	})
	mux.HandleFunc("POST /plans/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		f.transition(w, r.PathValue("id"), PlanStateClosed)
	})
	mux.HandleFunc("GET /plans/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		defer f.mu.Unlock()
		plan, ok := f.plans[id]
		if !ok {
			http.Error(w, `{"message":"no such plan"}`, http.StatusNotFound)
			return
		}
		f.getCount[id]++
		if target, scripted := f.promote[id]; scripted && f.getCount[id] >= 2 {
			plan.State = target
		}
		json.NewEncoder(w).Encode(plan)
	})
	return mux
}

func (f *fakeUTM) transition(w http.ResponseWriter, id, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[id]
	if !ok {
		http.Error(w, `{"message":"no such plan"}`, http.StatusNotFound)
		return
	}
	plan.State = state
	json.NewEncoder(w).Encode(plan)
}

func newTestUTMClient(t *testing.T) (*UTMClient, *fakeUTM) {
	t.Helper()
	fake := newFakeUTM()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return &UTMClient{BaseURL: srv.URL, HTTP: srv.Client(), Log: quietLog()}, fake
}

func TestPlanLifecycle(t *testing.T) {
	c, _ := newTestUTMClient(t)
	ctx := context.Background()

	uploaded, err := c.UploadPlan(ctx, map[string]any{"callsign": "UAS-7"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uploaded.State != PlanStateAccepted {
		t.Fatalf("uploaded state = %s, want %s", uploaded.State, PlanStateAccepted)
	}

	activated, err := c.ActivatePlan(ctx, uploaded.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.State != PlanStateActivated {
		t.Fatalf("activated state = %s, want %s", activated.State, PlanStateActivated)
	}

	closed, err := c.ClosePlan(ctx, uploaded.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State != PlanStateClosed {
		t.Fatalf("closed state = %s, want %s", closed.State, PlanStateClosed)
	}
}

func TestServiceErrorSurfacesBodyAndStatus(t *testing.T) {
	c, _ := newTestUTMClient(t)
	_, err := c.GetState(context.Background(), "missing")
	if err == nil {
		t.Fatal("want error for unknown plan")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "no such plan") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestAwaitStateReachesTarget(t *testing.T) {
	c, fake := newTestUTMClient(t)
	ctx := context.Background()

	uploaded, err := c.UploadPlan(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	fake.mu.Lock()
	fake.promote[uploaded.ID] = PlanStateActivated
	fake.mu.Unlock()

	plan, err := c.AwaitState(ctx, uploaded.ID, PlanStateActivated, time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if plan.State != PlanStateActivated {
		t.Fatalf("state = %s, want %s", plan.State, PlanStateActivated)
	}
}

func TestAwaitStateFailsOnOtherTerminalState(t *testing.T) {
	c, fake := newTestUTMClient(t)
	ctx := context.Background()

	uploaded, err := c.UploadPlan(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	fake.mu.Lock()
	fake.promote[uploaded.ID] = PlanStateRejected
	fake.mu.Unlock()

	_, err = c.AwaitState(ctx, uploaded.ID, PlanStateActivated, time.Second, 10*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), PlanStateRejected) {
		t.Fatalf("err = %v, want terminal-state failure naming %s", err, PlanStateRejected)
	}
}

func TestAwaitStateTimesOut(t *testing.T) {
	c, _ := newTestUTMClient(t)
	ctx := context.Background()

	uploaded, err := c.UploadPlan(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	_, err = c.AwaitState(ctx, uploaded.ID, PlanStateActivated, 50*time.Millisecond, 10*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "still "+PlanStateAccepted) {
		t.Fatalf("err = %v, want timeout naming the stuck state", err)
	}
}
