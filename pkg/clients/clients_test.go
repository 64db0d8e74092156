package clients

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/aerovista/skyconform/pkg/resolve"
)

var routeBerlin = []Waypoint{
	{Lat: 52.5200, Lon: 13.4050, AltM: 60},
	{Lat: 52.5500, Lon: 13.4050, AltM: 100},
}

func TestFlightPathSampling(t *testing.T) {
	sim, _ := NewSimulator(quietLog())

	track, duration, err := sim.FlightPath(routeBerlin, 20, 10)
	if err != nil {
		t.Fatalf("flight path: %v", err)
	}
	// ~3.3km leg at 20 m/s is roughly 167s of flight.
	if duration < 150 || duration > 185 {
		t.Errorf("duration = %v s, want roughly 167", duration)
	}
	if len(track) < 10 {
		t.Fatalf("track has %d samples, want a sample per 10s step", len(track))
	}
	first, last := track[0], track[len(track)-1]
	if first.Lat != routeBerlin[0].Lat || first.TOffsetS != 0 {
		t.Errorf("track does not start at the first waypoint: %+v", first)
	}
	if math.Abs(last.Lat-routeBerlin[1].Lat) > 1e-9 {
		t.Errorf("track does not end at the last waypoint: %+v", last)
	}
	if last.AltM != 100 {
		t.Errorf("final altitude = %v, want the waypoint's 100", last.AltM)
	}
	for i := 1; i < len(track); i++ {
		if track[i].TOffsetS <= track[i-1].TOffsetS {
			t.Fatalf("timestamps not strictly increasing at sample %d", i)
		}
	}
}

func TestFlightPathRejectsBadInput(t *testing.T) {
	sim, _ := NewSimulator(quietLog())
	if _, _, err := sim.FlightPath(routeBerlin[:1], 20, 1); err == nil {
		t.Error("want error for a single waypoint")
	}
	if _, _, err := sim.FlightPath(routeBerlin, 0, 1); err == nil {
		t.Error("want error for zero ground speed")
	}
}

func TestPlanVolumeFeature(t *testing.T) {
	sim, _ := NewSimulator(quietLog())
	f, err := sim.PlanVolume(routeBerlin, 0, 120)
	if err != nil {
		t.Fatalf("plan volume: %v", err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal feature: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode feature: %v", err)
	}
	if decoded["type"] != "Feature" {
		t.Errorf("type = %v, want Feature", decoded["type"])
	}
	props := decoded["properties"].(map[string]any)
	if props["ceiling_m"] != 120.0 {
		t.Errorf("ceiling_m = %v, want 120", props["ceiling_m"])
	}
	if props["length_m"].(float64) < 3000 {
		t.Errorf("length_m = %v, want the ~3.3km leg", props["length_m"])
	}

	if _, err := sim.PlanVolume(routeBerlin, 120, 60); err == nil {
		t.Error("want error when ceiling is below floor")
	}
}

func TestConflictTrackCrossesLeg(t *testing.T) {
	sim, _ := NewSimulator(quietLog())
	track, err := sim.ConflictTrack(routeBerlin[0], routeBerlin[1], 25, 60, 2000)
	if err != nil {
		t.Fatalf("conflict track: %v", err)
	}
	if len(track) < 2 {
		t.Fatalf("track has %d samples", len(track))
	}
	// The track should pass through the leg midpoint near the requested
	// offset.
	mid := geo.Midpoint(routeBerlin[0].point(), routeBerlin[1].point())
	closest, closestDist := 0, math.Inf(1)
	for i, p := range track {
		if d := geo.Distance(orb.Point{p.Lon, p.Lat}, mid); d < closestDist {
			closest, closestDist = i, d
		}
	}
	if closestDist > 50 {
		t.Errorf("no sample near the leg midpoint (closest %v m)", closestDist)
	}
	if off := track[closest].TOffsetS; math.Abs(off-60) > 5 {
		t.Errorf("midpoint crossing at t=%v s, want near 60", off)
	}
}

func TestAssertThat(t *testing.T) {
	a, _ := NewAsserter(quietLog())

	if err := a.That("state == 'ACTIVATED' && altitude < ceiling", map[string]any{
		"state": "ACTIVATED", "altitude": 90.0, "ceiling": 120.0,
	}); err != nil {
		t.Errorf("satisfied assertion failed: %v", err)
	}

	err := a.That("state == 'CLOSED'", map[string]any{"state": "ACTIVATED"})
	if err == nil || !strings.Contains(err.Error(), "not satisfied") {
		t.Errorf("err = %v, want unsatisfied assertion", err)
	}

	if err := a.That("count ???", nil); err == nil || !strings.Contains(err.Error(), "compile") {
		t.Errorf("err = %v, want compile failure", err)
	}
}

func TestAssertEqualsNormalizesNumbers(t *testing.T) {
	a, _ := NewAsserter(quietLog())

	// An int from the document and a float64 from a decoded response.
	if err := a.Equals(map[string]any{"ceiling": 120}, map[string]any{"ceiling": 120.0}); err != nil {
		t.Errorf("normalized values should compare equal: %v", err)
	}
	if err := a.Equals("ACTIVATED", "CLOSED"); err == nil {
		t.Error("want error for differing values")
	}
}

func TestMonitorBufferBounds(t *testing.T) {
	m := &monitor{subject: "telemetry.tracks", msgs: make(chan json.RawMessage, 2)}

	for i := 0; i < 5; i++ {
		m.push([]byte(`{"n":1}`))
	}
	received, dropped := m.stats()
	if received != 5 || dropped != 3 {
		t.Fatalf("received=%d dropped=%d, want 5 received with 3 dropped past the buffer", received, dropped)
	}

	m.stop()
	m.push([]byte(`{"late":true}`))
	if received, _ := m.stats(); received != 5 {
		t.Errorf("a stopped monitor accepted a message")
	}
	// stop is idempotent.
	m.stop()
}

func TestAwaitMessageFromMonitor(t *testing.T) {
	m := &monitor{subject: "telemetry.tracks", msgs: make(chan json.RawMessage, 4)}
	c := &TelemetryClient{log: quietLog(), monitors: map[string]*monitor{"mon-1": m}}

	m.push([]byte(`{"lat":52.52,"lon":13.405}`))
	msg, err := c.AwaitMessage(t.Context(), "mon-1", time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	pos := msg.(map[string]any)
	if pos["lat"] != 52.52 {
		t.Errorf("lat = %v", pos["lat"])
	}

	if _, err := c.AwaitMessage(t.Context(), "mon-1", 20*time.Millisecond); err == nil {
		t.Error("want timeout with no pending message")
	}
	if _, err := c.AwaitMessage(t.Context(), "mon-9", time.Second); err == nil {
		t.Error("want error for unknown monitor")
	}

	stats, err := c.StopMonitor("mon-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stats["received"] != 1 {
		t.Errorf("received = %v, want 1", stats["received"])
	}
	if _, err := c.StopMonitor("mon-1"); err == nil {
		t.Error("want error stopping an already-removed monitor")
	}
}

func TestCapabilitySetIsFullyWired(t *testing.T) {
	caps := NewCapabilityRegistry()
	deps := resolve.NewRegistry()
	Wire(deps, quietLog())

	names := caps.Names()
	want := []string{
		"assert.equals", "assert.that",
		"control.log", "control.set", "control.wait",
		"sim.conflict_track", "sim.flight_path", "sim.plan_volume",
		"telemetry.await_message", "telemetry.start_monitor", "telemetry.stop_monitor", "telemetry.stream",
		"utm.activate_plan", "utm.await_state", "utm.close_plan", "utm.get_state", "utm.upload_plan",
	}
	if len(names) != len(want) {
		t.Fatalf("capability names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("capability names = %v, want %v", names, want)
		}
	}

	// Every capability's owning client must be statically constructible.
	for _, name := range names {
		d, ok := caps.Lookup(name)
		if !ok {
			t.Fatalf("lookup %s failed", name)
		}
		if err := deps.Check(d.ClientType()); err != nil {
			t.Errorf("capability %s: client not wired: %v", name, err)
		}
	}
}
