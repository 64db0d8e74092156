package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aerovista/skyconform/pkg/expr"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].loop")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether errs contains any error-severity entry.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile performs the full 3-phase validation pipeline on a scenario
// file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Scenario, []*ValidationError) {
	sc, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return sc, Validate(sc)
}

// Validate runs phases 2 and 3 on an already-parsed scenario.
func Validate(sc *Scenario) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(sc)...)
	all = append(all, ValidateDomain(sc)...)
	return all
}

// validateSemantic validates the scenario against the generated JSON Schema.
func validateSemantic(sc *Scenario) []*ValidationError {
	semErr := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: msg, Severity: "error"}}
	}

	data, err := json.Marshal(sc)
	if err != nil {
		return semErr(fmt.Sprintf("marshal for schema validation: %v", err))
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semErr(fmt.Sprintf("generate schema: %v", err))
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semErr(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("scenario-v1.json", schemaDoc); err != nil {
		return semErr(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("scenario-v1.json")
	if err != nil {
		return semErr(fmt.Sprintf("compile schema: %v", err))
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return semErr(fmt.Sprintf("unmarshal document: %v", err))
	}
	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(sc *Scenario) []*ValidationError {
	var errs []*ValidationError

	if sc.APIVersion != "scenario/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", sc.APIVersion, "scenario/v1"),
			Severity: "error",
		})
	}

	// Group expansion is one level deep: a group member may not reference
	// another group.
	for name, g := range sc.Groups {
		for i := range g.Steps {
			st := &g.Steps[i]
			path := fmt.Sprintf("groups.%s.steps[%d]", name, i)
			if _, isGroup := sc.Groups[st.Step]; isGroup {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path,
					Message:  fmt.Sprintf("group %q references group %q: groups cannot nest", name, st.Step),
					Severity: "error",
				})
			}
			errs = append(errs, validateStep(st, path)...)
		}
	}

	seen := make(map[string]string)
	for i := range sc.Steps {
		st := &sc.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if prev, dup := seen[st.ID]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".id",
				Message:  fmt.Sprintf("duplicate step id %q (first used at %s)", st.ID, prev),
				Severity: "error",
			})
		}
		seen[st.ID] = path
		errs = append(errs, validateStep(st, path)...)
	}

	return errs
}

func validateStep(st *Step, path string) []*ValidationError {
	var errs []*ValidationError

	if st.Step == "" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path + ".step",
			Message:  "step requires a capability or group name",
			Severity: "error",
		})
	}

	if st.Loop != nil {
		modes := st.Loop.Modes()
		switch len(modes) {
		case 1:
			if modes[0] == "count" && st.Loop.Count < 1 {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".loop.count",
					Message:  fmt.Sprintf("loop count must be >= 1, got %d", st.Loop.Count),
					Severity: "error",
				})
			}
			if modes[0] == "while" {
				if _, err := expr.ParseCondition(st.Loop.While); err != nil {
					errs = append(errs, &ValidationError{
						Phase:    "domain",
						Path:     path + ".loop.while",
						Message:  fmt.Sprintf("while condition does not parse (loop will run zero iterations): %v", err),
						Severity: "warning",
					})
				}
			}
		case 0:
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".loop",
				Message:  "loop requires exactly one of count, items, while",
				Severity: "error",
			})
		default:
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".loop",
				Message:  fmt.Sprintf("loop sets %s: exactly one of count, items, while allowed", strings.Join(modes, " and ")),
				Severity: "error",
			})
		}
	}

	if st.Background && st.Loop != nil {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path + ".background",
			Message:  "background steps cannot loop; loop a group containing the background step instead",
			Severity: "error",
		})
	}

	if st.If != "" {
		if _, err := expr.ParseCondition(st.If); err != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".if",
				Message:  fmt.Sprintf("condition does not parse (step will be skipped): %v", err),
				Severity: "warning",
			})
		}
	}

	return errs
}
