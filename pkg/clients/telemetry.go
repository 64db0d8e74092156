package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/aerovista/skyconform/pkg/capability"
	"github.com/aerovista/skyconform/pkg/resolve"
)

const defaultMonitorBuffer = 256

// TelemetryClient publishes track telemetry to the broker and hosts subject
// monitors. A monitor is the auxiliary long-lived listener pattern: started
// by one step, consumed by later steps, torn down by stop or session close.
type TelemetryClient struct {
	nc  *nats.Conn
	log *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
}

// NewTelemetryClient connects to the broker.
//
// Environment variables:
//   - NATS_URL → broker URL (default nats://127.0.0.1:4222)
func NewTelemetryClient(log *slog.Logger) (*TelemetryClient, resolve.ReleaseFunc, error) {
	url := firstOf(os.Getenv("NATS_URL"), nats.DefaultURL)
	nc, err := nats.Connect(url,
		nats.Name("skyconform"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to telemetry broker at %s: %w", url, err)
	}
	c := &TelemetryClient{
		nc:       nc,
		log:      log,
		monitors: make(map[string]*monitor),
	}
	return c, c.close, nil
}

func (c *TelemetryClient) close() error {
	c.mu.Lock()
	for id, m := range c.monitors {
		m.stop()
		delete(c.monitors, id)
	}
	c.mu.Unlock()
	return c.nc.Drain()
}

// monitor is a bounded subject listener running on the broker client's
// dispatch goroutine. Messages past the buffer are counted and dropped.
type monitor struct {
	subject string
	sub     *nats.Subscription
	msgs    chan json.RawMessage

	mu       sync.Mutex
	received int
	dropped  int
	stopped  bool
}

func (m *monitor) push(data []byte) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.received++
	m.mu.Unlock()

	msg := make(json.RawMessage, len(data))
	copy(msg, data)
	select {
	case m.msgs <- msg:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

func (m *monitor) stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

func (m *monitor) stats() (received, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.dropped
}

// Stream publishes each position to the subject in order, pacing by
// interval. nil interval publishes back to back.
func (c *TelemetryClient) Stream(ctx context.Context, subject string, positions []any, interval time.Duration) (int, error) {
	for i, pos := range positions {
		data, err := json.Marshal(pos)
		if err != nil {
			return i, fmt.Errorf("encode position %d: %w", i, err)
		}
		if err := c.nc.Publish(subject, data); err != nil {
			return i, fmt.Errorf("publish position %d: %w", i, err)
		}
		if interval > 0 && i < len(positions)-1 {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return len(positions), c.nc.Flush()
}

// StartMonitor subscribes to subject and returns the monitor's handle id.
func (c *TelemetryClient) StartMonitor(subject string, buffer int) (string, error) {
	if buffer <= 0 {
		buffer = defaultMonitorBuffer
	}
	m := &monitor{
		subject: subject,
		msgs:    make(chan json.RawMessage, buffer),
	}
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		m.push(msg.Data)
	})
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", subject, err)
	}
	m.sub = sub

	id := "mon-" + uuid.NewString()[:8]
	c.mu.Lock()
	c.monitors[id] = m
	c.mu.Unlock()
	c.log.Debug("telemetry monitor started", "monitor", id, "subject", subject)
	return id, nil
}

func (c *TelemetryClient) lookup(id string) (*monitor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.monitors[id]
	if !ok {
		return nil, fmt.Errorf("unknown monitor %q", id)
	}
	return m, nil
}

// AwaitMessage blocks until the monitor yields its next message or the
// deadline passes.
func (c *TelemetryClient) AwaitMessage(ctx context.Context, id string, timeout time.Duration) (any, error) {
	m, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-m.msgs:
		var decoded any
		if err := json.Unmarshal(msg, &decoded); err != nil {
			return string(msg), nil
		}
		return decoded, nil
	case <-timer.C:
		return nil, fmt.Errorf("monitor %s: no message on %s within %s", id, m.subject, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StopMonitor unsubscribes and returns the monitor's receive counters.
func (c *TelemetryClient) StopMonitor(id string) (map[string]any, error) {
	c.mu.Lock()
	m, ok := c.monitors[id]
	delete(c.monitors, id)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown monitor %q", id)
	}
	m.stop()
	received, dropped := m.stats()
	return map[string]any{
		"monitor":  id,
		"subject":  m.subject,
		"received": received,
		"dropped":  dropped,
	}, nil
}

type streamParams struct {
	Subject        string  `json:"subject"`
	Positions      []any   `json:"positions"`
	IntervalMillis float64 `json:"interval_millis,omitempty"`
}

type startMonitorParams struct {
	Subject string `json:"subject"`
	Buffer  int    `json:"buffer,omitempty"`
}

type monitorIDParams struct {
	Monitor string `json:"monitor"`
}

type awaitMessageParams struct {
	Monitor        string  `json:"monitor"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// registerTelemetry registers the telemetry broker capabilities.
func registerTelemetry(caps *capability.Registry) {
	capability.MustRegister(caps, "telemetry.stream", "Publish a track position sequence to a broker subject",
		func(ctx context.Context, c *TelemetryClient, p streamParams) (any, error) {
			interval := time.Duration(p.IntervalMillis * float64(time.Millisecond))
			n, err := c.Stream(ctx, p.Subject, p.Positions, interval)
			if err != nil {
				return nil, capability.Runtime("telemetry.stream", err)
			}
			return map[string]any{"subject": p.Subject, "published": n}, nil
		})
	capability.MustRegister(caps, "telemetry.start_monitor", "Start a bounded listener on a broker subject",
		func(ctx context.Context, c *TelemetryClient, p startMonitorParams) (any, error) {
			id, err := c.StartMonitor(p.Subject, p.Buffer)
			if err != nil {
				return nil, capability.Runtime("telemetry.start_monitor", err)
			}
			return map[string]any{"monitor": id, "subject": p.Subject}, nil
		})
	capability.MustRegister(caps, "telemetry.await_message", "Block until the monitor yields its next message",
		func(ctx context.Context, c *TelemetryClient, p awaitMessageParams) (any, error) {
			timeout := secondsOr(p.TimeoutSeconds, 10*time.Second)
			msg, err := c.AwaitMessage(ctx, p.Monitor, timeout)
			if err != nil {
				return nil, capability.Runtime("telemetry.await_message", err)
			}
			return msg, nil
		})
	capability.MustRegister(caps, "telemetry.stop_monitor", "Stop a monitor and report its receive counters",
		func(ctx context.Context, c *TelemetryClient, p monitorIDParams) (any, error) {
			stats, err := c.StopMonitor(p.Monitor)
			if err != nil {
				return nil, capability.Runtime("telemetry.stop_monitor", err)
			}
			return stats, nil
		})
}
