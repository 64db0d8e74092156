package clients

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/aerovista/skyconform/pkg/capability"
)

// Simulator generates synthetic flight geometry for scenarios: great-circle
// tracks between waypoints, plan volumes, and deliberately conflicting
// traffic.
type Simulator struct {
	Log *slog.Logger
}

// NewSimulator builds the flight geometry generator.
func NewSimulator(log *slog.Logger) (*Simulator, error) {
	return &Simulator{Log: log}, nil
}

// Waypoint is a named position on a planned route.
type Waypoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	AltM float64 `json:"alt_m,omitempty"`
}

func (w Waypoint) point() orb.Point { return orb.Point{w.Lon, w.Lat} }

// Position is one sample on a generated track.
type Position struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	AltM     float64 `json:"alt_m"`
	TOffsetS float64 `json:"t_offset_s"`
}

// FlightPath samples a great-circle track through the waypoints at the
// given ground speed, one position per step interval.
func (s *Simulator) FlightPath(waypoints []Waypoint, groundSpeedMS, stepSeconds float64) ([]Position, float64, error) {
	if len(waypoints) < 2 {
		return nil, 0, fmt.Errorf("need at least 2 waypoints, got %d", len(waypoints))
	}
	if groundSpeedMS <= 0 {
		return nil, 0, fmt.Errorf("ground speed must be positive, got %v", groundSpeedMS)
	}
	if stepSeconds <= 0 {
		stepSeconds = 1
	}

	var (
		positions []Position
		elapsed   float64
	)
	stepDist := groundSpeedMS * stepSeconds

	first := waypoints[0]
	positions = append(positions, Position{Lat: first.Lat, Lon: first.Lon, AltM: first.AltM, TOffsetS: 0})

	for i := 0; i < len(waypoints)-1; i++ {
		from, to := waypoints[i], waypoints[i+1]
		legDist := geo.Distance(from.point(), to.point())
		bearing := geo.Bearing(from.point(), to.point())
		for travelled := stepDist; travelled < legDist; travelled += stepDist {
			p := geo.PointAtBearingAndDistance(from.point(), bearing, travelled)
			frac := travelled / legDist
			elapsed += stepSeconds
			positions = append(positions, Position{
				Lat:      p.Lat(),
				Lon:      p.Lon(),
				AltM:     from.AltM + (to.AltM-from.AltM)*frac,
				TOffsetS: elapsed,
			})
		}
		elapsed += math.Mod(legDist, stepDist) / groundSpeedMS
		positions = append(positions, Position{Lat: to.Lat, Lon: to.Lon, AltM: to.AltM, TOffsetS: elapsed})
	}
	return positions, elapsed, nil
}

// PlanVolume builds a GeoJSON LineString feature for the route with floor
// and ceiling properties, the shape the UTM service accepts as a plan
// volume.
func (s *Simulator) PlanVolume(waypoints []Waypoint, floorM, ceilingM float64) (*geojson.Feature, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("need at least 2 waypoints, got %d", len(waypoints))
	}
	if ceilingM <= floorM {
		return nil, fmt.Errorf("ceiling %v must be above floor %v", ceilingM, floorM)
	}
	line := make(orb.LineString, len(waypoints))
	for i, w := range waypoints {
		line[i] = w.point()
	}
	f := geojson.NewFeature(line)
	f.Properties["floor_m"] = floorM
	f.Properties["ceiling_m"] = ceilingM
	f.Properties["length_m"] = geo.Length(line)
	return f, nil
}

// ConflictTrack generates a track that crosses the given route leg at its
// midpoint, perpendicular to it, timed to arrive there at crossingOffsetS.
func (s *Simulator) ConflictTrack(from, to Waypoint, groundSpeedMS, crossingOffsetS, legLengthM float64) ([]Position, error) {
	if groundSpeedMS <= 0 {
		return nil, fmt.Errorf("ground speed must be positive, got %v", groundSpeedMS)
	}
	if legLengthM <= 0 {
		legLengthM = 2000
	}
	mid := geo.Midpoint(from.point(), to.point())
	bearing := geo.Bearing(from.point(), to.point())
	cross := bearing + 90
	if cross >= 180 {
		cross -= 360
	}

	start := geo.PointAtBearingAndDistance(mid, cross+180, legLengthM/2)
	end := geo.PointAtBearingAndDistance(mid, cross, legLengthM/2)
	alt := (from.AltM + to.AltM) / 2

	travelTime := (legLengthM / 2) / groundSpeedMS
	track, _, err := s.FlightPath([]Waypoint{
		{Lat: start.Lat(), Lon: start.Lon(), AltM: alt},
		{Lat: end.Lat(), Lon: end.Lon(), AltM: alt},
	}, groundSpeedMS, 1)
	if err != nil {
		return nil, err
	}
	// Shift timestamps so the midpoint crossing lands on the offset.
	shift := crossingOffsetS - travelTime
	for i := range track {
		track[i].TOffsetS += shift
	}
	return track, nil
}

type flightPathParams struct {
	Waypoints     []Waypoint `json:"waypoints"`
	GroundSpeedMS float64    `json:"ground_speed_ms"`
	StepSeconds   float64    `json:"step_seconds,omitempty"`
}

type planVolumeParams struct {
	Waypoints []Waypoint `json:"waypoints"`
	FloorM    float64    `json:"floor_m"`
	CeilingM  float64    `json:"ceiling_m"`
}

type conflictTrackParams struct {
	From            Waypoint `json:"from"`
	To              Waypoint `json:"to"`
	GroundSpeedMS   float64  `json:"ground_speed_ms"`
	CrossingOffsetS float64  `json:"crossing_offset_s,omitempty"`
	LegLengthM      float64  `json:"leg_length_m,omitempty"`
}

// registerSimulator registers the flight geometry capabilities.
func registerSimulator(caps *capability.Registry) {
	capability.MustRegister(caps, "sim.flight_path", "Sample a great-circle track through waypoints",
		func(ctx context.Context, c *Simulator, p flightPathParams) (any, error) {
			track, duration, err := c.FlightPath(p.Waypoints, p.GroundSpeedMS, p.StepSeconds)
			if err != nil {
				return nil, capability.Runtime("sim.flight_path", err)
			}
			return asMap(map[string]any{
				"positions":  track,
				"count":      len(track),
				"duration_s": duration,
			})
		})
	capability.MustRegister(caps, "sim.plan_volume", "Build a GeoJSON plan volume for a route",
		func(ctx context.Context, c *Simulator, p planVolumeParams) (any, error) {
			f, err := c.PlanVolume(p.Waypoints, p.FloorM, p.CeilingM)
			if err != nil {
				return nil, capability.Runtime("sim.plan_volume", err)
			}
			return asMap(f)
		})
	capability.MustRegister(caps, "sim.conflict_track", "Generate traffic crossing a route leg",
		func(ctx context.Context, c *Simulator, p conflictTrackParams) (any, error) {
			track, err := c.ConflictTrack(p.From, p.To, p.GroundSpeedMS, p.CrossingOffsetS, p.LegLengthM)
			if err != nil {
				return nil, capability.Runtime("sim.conflict_track", err)
			}
			return asMap(map[string]any{
				"positions": track,
				"count":     len(track),
			})
		})
}
