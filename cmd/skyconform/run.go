package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/aerovista/skyconform/pkg/capability"
	"github.com/aerovista/skyconform/pkg/clients"
	"github.com/aerovista/skyconform/pkg/engine"
	"github.com/aerovista/skyconform/pkg/report"
	"github.com/aerovista/skyconform/pkg/resolve"
	"github.com/aerovista/skyconform/pkg/result"
	"github.com/aerovista/skyconform/pkg/schema"
	"github.com/aerovista/skyconform/pkg/tui"
)

var (
	runArtifacts   string
	runInteractive bool
	runWatch       bool
	runJSON        bool
	runID          string
)

var runCmd = &cobra.Command{
	Use:   "run [scenario.yaml]",
	Short: "Execute a conformance scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	sc, errs := schema.ValidateFile(args[0])
	if schema.HasErrors(errs) {
		return runValidate(cmd, args)
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if runWatch {
		// The TUI owns the terminal; keep structured logs out of it.
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	caps := clients.NewCapabilityRegistry()
	deps := resolve.NewRegistry()
	clients.Wire(deps, log)

	rid := runID
	if rid == "" {
		rid = engine.GenerateRunID()
	}
	sink, err := report.NewSink(runArtifacts, rid)
	if err != nil {
		return err
	}

	cfg := engine.Config{RunID: rid, Log: log, Observer: sink.Observe}
	if runInteractive {
		gate, closeGate, err := newOperatorGate()
		if err != nil {
			return err
		}
		defer closeGate()
		cfg.Gate = gate
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var res *result.ScenarioResult
	if runWatch {
		res, err = runWatched(ctx, sc, caps, deps, cfg)
		if err != nil {
			sink.Finish(&result.ScenarioResult{RunID: rid, Scenario: sc.Name, Status: result.StatusFail, Error: err.Error()})
			return err
		}
	} else {
		res = engine.New(sc, caps, deps, cfg).Run(ctx)
	}
	if err := sink.Finish(res); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if runJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(report.Render(res))
		fmt.Printf("\nArtifacts: %s\n", sink.Dir)
	}

	if res.Status != result.StatusPass {
		return fmt.Errorf("scenario %s: %s", sc.Name, res.Status)
	}
	return nil
}

// runWatched executes the scenario behind the live TUI, forwarding step
// transitions into the program alongside the artifact sink.
func runWatched(ctx context.Context, sc *schema.Scenario, caps *capability.Registry, deps *resolve.Registry, cfg engine.Config) (*result.ScenarioResult, error) {
	return tui.Watch(sc.Name, cfg.RunID, func(p *tea.Program) {
		observe := cfg.Observer
		cfg.Observer = func(r result.StepResult) {
			observe(r)
			p.Send(tui.StepMsg{Result: r})
		}
		eng := engine.New(sc, caps, deps, cfg)
		go func() {
			p.Send(tui.DoneMsg{Result: eng.Run(ctx)})
		}()
	})
}

// newOperatorGate prompts per step on the terminal. Empty input and "y"
// execute the step, "n" skips it, "q" skips this and all remaining steps.
func newOperatorGate() (engine.Gate, func(), error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "step? ",
		InterruptPrompt: "^C",
		EOFPrompt:       "q",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init readline: %w", err)
	}

	skipAll := false
	gate := func(stepID, capabilityName string) bool {
		if skipAll {
			return false
		}
		rl.SetPrompt(fmt.Sprintf("%s (%s) [Y/n/q]: ", stepID, capabilityName))
		for {
			line, err := rl.Readline()
			if err != nil {
				if err == readline.ErrInterrupt || err == io.EOF {
					skipAll = true
					return false
				}
				return false
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "", "y", "yes":
				return true
			case "n", "no":
				return false
			case "q", "quit":
				skipAll = true
				return false
			default:
				fmt.Fprintln(os.Stderr, "  y = execute, n = skip, q = skip all remaining")
			}
		}
	}
	return gate, func() { rl.Close() }, nil
}
