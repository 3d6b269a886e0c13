package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Backends a scenario can run against.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Scenario is a conformance scenario: a program plus a sequence of steps
// that mutate the store, define scoped rules and check query results.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of the CUE program to load. Relative paths are
	// resolved against the scenario file.
	Program string `yaml:"program,omitempty"`

	// Source is an inline CUE program, used when Program is empty.
	Source string `yaml:"source,omitempty"`

	// Backend selects the storage backend. Defaults to memory.
	Backend string `yaml:"backend,omitempty"`

	// QueryID is the fixed query id every query of the run reports.
	// Defaults to "test-query-default".
	QueryID string `yaml:"query_id,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one action of a scenario. Exactly one of Store, Retract, Query
// and Scope is set.
type Step struct {
	// Store and Retract list facts as [Predicate, key, key...].
	Store   [][]any `yaml:"store,omitempty"`
	Retract [][]any `yaml:"retract,omitempty"`

	// Query names a query of the program or of the enclosing scope.
	Query string `yaml:"query,omitempty"`

	// Hydrate loads the entities behind every key of the result.
	Hydrate bool `yaml:"hydrate,omitempty"`

	// Expect lists the expected rows as variable -> key maps. Row order is
	// not significant.
	Expect []map[string]any `yaml:"expect,omitempty"`

	// ExpectCount checks the number of rows.
	ExpectCount *int `yaml:"expect_count,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	Scope *ScopeStep `yaml:"scope,omitempty"`
}

// ScopeStep compiles a CUE fragment against the program, defines its rules
// in a fresh rule scope and runs Steps inside that scope. The rules are
// gone once the steps finish.
type ScopeStep struct {
	Source string `yaml:"source"`
	Steps  []Step `yaml:"steps"`
}

// Step kinds.
const (
	KindStore   = "store"
	KindRetract = "retract"
	KindQuery   = "query"
	KindScope   = "scope"
)

// Kind reports which action the step performs, or "" when none or more
// than one is set.
func (s *Step) Kind() string {
	var kinds []string
	if s.Store != nil {
		kinds = append(kinds, KindStore)
	}
	if s.Retract != nil {
		kinds = append(kinds, KindRetract)
	}
	if s.Query != "" {
		kinds = append(kinds, KindQuery)
	}
	if s.Scope != nil {
		kinds = append(kinds, KindScope)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and a relative program path is resolved against the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Program != "" && !filepath.IsAbs(s.Program) {
		s.Program = filepath.Join(filepath.Dir(path), s.Program)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Program paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Program == "") == (s.Source == "") {
		return fmt.Errorf("exactly one of program and source is required")
	}
	switch s.Backend {
	case "", BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	return validateSteps("steps", s.Steps)
}

func validateSteps(path string, steps []Step) error {
	for i := range steps {
		st := &steps[i]
		where := fmt.Sprintf("%s[%d]", path, i)
		kind := st.Kind()
		if kind == "" {
			return fmt.Errorf("%s: exactly one of store, retract, query and scope is required", where)
		}
		if kind != KindQuery && (st.Expect != nil || st.ExpectCount != nil || st.Hydrate) {
			return fmt.Errorf("%s: expect, expect_count and hydrate apply to queries only", where)
		}
		if st.ExpectCount != nil && *st.ExpectCount < 0 {
			return fmt.Errorf("%s: expect_count must be non-negative", where)
		}
		if st.ExpectError != "" && (st.Expect != nil || st.ExpectCount != nil) {
			return fmt.Errorf("%s: expect_error cannot be combined with expected rows", where)
		}
		for j, f := range slices.Concat(st.Store, st.Retract) {
			if len(f) == 0 {
				return fmt.Errorf("%s: fact %d is empty", where, j)
			}
			if _, ok := f[0].(string); !ok {
				return fmt.Errorf("%s: fact %d must start with a predicate name", where, j)
			}
		}
		if st.Scope != nil {
			if st.Scope.Source == "" {
				return fmt.Errorf("%s: scope source is required", where)
			}
			if err := validateSteps(where+".scope.steps", st.Scope.Steps); err != nil {
				return err
			}
		}
	}
	return nil
}
