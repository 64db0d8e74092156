package serve

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aerovista/skyconform/pkg/capability"
	"github.com/aerovista/skyconform/pkg/resolve"
	"github.com/aerovista/skyconform/pkg/result"
)

type probeClient struct{}

type probeParams struct {
	Target string `json:"target"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	caps := capability.NewRegistry()
	capability.MustRegister(caps, "probe", "probe a target",
		func(ctx context.Context, c *probeClient, p probeParams) (any, error) {
			return map[string]any{"target": p.Target, "reachable": true}, nil
		})
	deps := resolve.NewRegistry()
	deps.MustProvide(func() (*probeClient, error) { return &probeClient{}, nil })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(caps, deps, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

const probeScenario = `
apiVersion: scenario/v1
name: probe-run
steps:
  - step: probe
    id: first
    arguments:
      target: gateway
`

func postScenario(t *testing.T, srv *httptest.Server, doc string) startRunResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/runs", "application/yaml", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("post run: status %d: %s", resp.StatusCode, body)
	}
	var started startRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return started
}

func awaitRun(t *testing.T, srv *httptest.Server, runID string) runSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/runs/" + runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		var snap runSnapshot
		err = json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.Status != result.StatusRunning {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s still RUNNING after 5s", runID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartRunAndFetchResult(t *testing.T) {
	srv := newTestServer(t)

	started := postScenario(t, srv, probeScenario)
	if started.RunID == "" || started.Scenario != "probe-run" {
		t.Fatalf("start response = %+v", started)
	}

	snap := awaitRun(t, srv, started.RunID)
	if snap.Status != result.StatusPass {
		t.Fatalf("run status = %s (%s), want PASS", snap.Status, snap.Error)
	}
	if len(snap.Steps) != 1 || snap.Steps[0].ID != "first" {
		t.Fatalf("steps = %+v", snap.Steps)
	}
}

func TestStartRunAcceptsJSONEnvelope(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(startRunRequest{Scenario: probeScenario})
	resp, err := http.Post(srv.URL+"/api/runs", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStartRunRejectsInvalidDocument(t *testing.T) {
	srv := newTestServer(t)

	// Unknown field fails strict decoding.
	resp, err := http.Post(srv.URL+"/api/runs", "application/yaml",
		strings.NewReader("apiVersion: scenario/v1\nname: x\nbogus: field\nsteps: []\n"))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/api/runs", "application/yaml", strings.NewReader("  "))
	if err != nil {
		t.Fatalf("post empty: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty document status = %d, want 400", resp2.StatusCode)
	}
}

func TestGetRunUnknownID(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/runs/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCapabilityCatalog(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/capabilities")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Capabilities []capability.Info `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Capabilities) != 1 || out.Capabilities[0].Name != "probe" {
		t.Fatalf("catalog = %+v", out.Capabilities)
	}
	if len(out.Capabilities[0].Params) == 0 {
		t.Error("catalog entry missing parameter schema")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	started := postScenario(t, srv, probeScenario)
	awaitRun(t, srv, started.RunID)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	if !strings.Contains(text, `skyconform_runs_total{status="PASS"} 1`) {
		t.Errorf("metrics missing run counter:\n%s", text)
	}
	if !strings.Contains(text, `skyconform_steps_total{status="PASS"} 1`) {
		t.Errorf("metrics missing step counter:\n%s", text)
	}
}
