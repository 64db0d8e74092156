package clients

import (
	"log/slog"

	"github.com/aerovista/skyconform/pkg/capability"
	"github.com/aerovista/skyconform/pkg/resolve"
)

// NewCapabilityRegistry builds the standard conformance capability set.
func NewCapabilityRegistry() *capability.Registry {
	caps := capability.NewRegistry()
	registerUTM(caps)
	registerTelemetry(caps)
	registerSimulator(caps)
	registerAssert(caps)
	registerControl(caps)
	return caps
}

// Wire registers a factory for every client type on the dependency
// registry. Clients are constructed lazily per run session: a scenario that
// never touches telemetry never opens a broker connection.
func Wire(deps *resolve.Registry, log *slog.Logger) {
	deps.MustProvide(func() (*UTMClient, error) { return NewUTMClient(log) })
	deps.MustProvide(func() (*TelemetryClient, resolve.ReleaseFunc, error) { return NewTelemetryClient(log) })
	deps.MustProvide(func() (*Simulator, error) { return NewSimulator(log) })
	deps.MustProvide(func() (*Asserter, error) { return NewAsserter(log) })
	deps.MustProvide(func() (*Control, error) { return NewControl(log) })
}
