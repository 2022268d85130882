package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miniclaw/miniclaw/types"
)

// Mode selects how a recipe's steps are scheduled.
type Mode string

const (
	// ModeLinear runs steps strictly in declaration order.
	ModeLinear Mode = "linear"
	// ModeDAG resolves depends_on into a dependency graph and runs
	// independent steps concurrently.
	ModeDAG Mode = "dag"
)

// OnFailure selects what happens to the rest of the run when a step fails.
type OnFailure string

const (
	// OnFailureStop halts further step launches after the failure.
	OnFailureStop OnFailure = "stop"
	// OnFailureContinue lets independent work keep going.
	OnFailureContinue OnFailure = "continue"
)

const (
	defaultMaxParallel  = 4
	defaultRetryBackoff = 750 * time.Millisecond
)

// Step is a single unit of work in a recipe. Steps are owned by their
// Recipe; schedulers refer to them by ID and never mutate them.
type Step struct {
	ID               string
	Prompt           string
	DependsOn        []string
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	RequireApproval  bool
	OnFailure        OnFailure
}

// Recipe is a validated workflow definition. Once loaded it is immutable
// and safe to share across concurrent runs.
type Recipe struct {
	Name        string
	Mode        Mode
	MaxParallel int
	Steps       []*Step
	Metadata    map[string]any

	byID map[string]*Step
}

// Step returns the step with the given ID.
func (r *Recipe) Step(id string) (*Step, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// StepIDs returns the step IDs in declaration order.
func (r *Recipe) StepIDs() []string {
	ids := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Dependents returns a map from step ID to the IDs of steps that depend on
// it, in declaration order.
func (r *Recipe) Dependents() map[string][]string {
	out := make(map[string][]string, len(r.Steps))
	for _, s := range r.Steps {
		for _, dep := range s.DependsOn {
			out[dep] = append(out[dep], s.ID)
		}
	}
	return out
}

// recipeSpec is the raw on-disk shape of a recipe. Both YAML and JSON
// recipes unmarshal into it.
type recipeSpec struct {
	Name        string         `yaml:"name" json:"name"`
	Mode        string         `yaml:"mode" json:"mode"`
	MaxParallel *int           `yaml:"max_parallel" json:"max_parallel"`
	Steps       []stepSpec     `yaml:"steps" json:"steps"`
	Metadata    map[string]any `yaml:"metadata" json:"metadata"`
}

type stepSpec struct {
	ID               string   `yaml:"id" json:"id"`
	Prompt           string   `yaml:"prompt" json:"prompt"`
	DependsOn        depsList `yaml:"depends_on" json:"depends_on"`
	RetryMaxAttempts *int     `yaml:"retry_max_attempts" json:"retry_max_attempts"`
	RetryBackoffMs   *int     `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	RequireApproval  bool     `yaml:"require_approval" json:"require_approval"`
	OnFailure        string   `yaml:"on_failure" json:"on_failure"`
}

// depsList accepts either a single string or a list of strings.
type depsList []string

func (d *depsList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*d = []string{s}
		}
		return nil
	default:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*d = list
		return nil
	}
}

func (d *depsList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*d = []string{s}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*d = list
	return nil
}

// ParseRecipe parses and validates a recipe from YAML or JSON bytes.
// fallbackName is used when the document carries no name, typically the
// file stem.
func ParseRecipe(data []byte, fallbackName string) (*Recipe, error) {
	var spec recipeSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, types.NewError(types.ErrRecipeInvalid, "recipe is not valid YAML or JSON").WithCause(err)
	}
	return buildRecipe(&spec, fallbackName)
}

// LoadRecipeFile reads a recipe from disk. The name defaults to the file
// stem when the document omits one.
func LoadRecipeFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Errorf(types.ErrRecipeInvalid, "read recipe %s", path).WithCause(err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseRecipe(data, stem)
}

func buildRecipe(spec *recipeSpec, fallbackName string) (*Recipe, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = fallbackName
	}
	if len(spec.Steps) == 0 {
		return nil, types.NewError(types.ErrRecipeInvalid, "recipe has no steps")
	}

	steps := make([]*Step, 0, len(spec.Steps))
	byID := make(map[string]*Step, len(spec.Steps))
	for i, raw := range spec.Steps {
		step, err := buildStep(&raw, i)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[step.ID]; dup {
			return nil, types.Errorf(types.ErrDuplicateStep, "step ids must be unique, duplicate %q", step.ID)
		}
		byID[step.ID] = step
		steps = append(steps, step)
	}

	maxParallel := defaultMaxParallel
	if spec.MaxParallel != nil {
		maxParallel = *spec.MaxParallel
	}
	if maxParallel < 1 {
		return nil, types.Errorf(types.ErrInvalidParallelism, "max_parallel must be >= 1, got %d", maxParallel)
	}

	mode, err := resolveMode(spec.Mode, steps)
	if err != nil {
		return nil, err
	}

	recipe := &Recipe{
		Name:        name,
		Mode:        mode,
		MaxParallel: maxParallel,
		Steps:       steps,
		Metadata:    spec.Metadata,
		byID:        byID,
	}
	if err := recipe.validateDependencies(); err != nil {
		return nil, err
	}
	if err := recipe.ensureAcyclic(); err != nil {
		return nil, err
	}
	return recipe, nil
}

func buildStep(raw *stepSpec, index int) (*Step, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		// Stable derivation from position so reloads of an unchanged
		// file produce the same ids.
		id = fmt.Sprintf("step-%d", index+1)
	}
	prompt := strings.TrimSpace(raw.Prompt)
	if prompt == "" {
		return nil, types.Errorf(types.ErrRecipeInvalid, "step %q is missing prompt", id)
	}

	attempts := 1
	if raw.RetryMaxAttempts != nil {
		attempts = *raw.RetryMaxAttempts
	}
	if attempts < 1 {
		return nil, types.Errorf(types.ErrRecipeInvalid, "step %q: retry_max_attempts must be >= 1", id)
	}

	backoff := defaultRetryBackoff
	if raw.RetryBackoffMs != nil {
		if *raw.RetryBackoffMs < 0 {
			return nil, types.Errorf(types.ErrRecipeInvalid, "step %q: retry_backoff_ms must be >= 0", id)
		}
		backoff = time.Duration(*raw.RetryBackoffMs) * time.Millisecond
	}

	onFailure := OnFailureStop
	switch strings.ToLower(strings.TrimSpace(raw.OnFailure)) {
	case "", string(OnFailureStop):
	case string(OnFailureContinue):
		onFailure = OnFailureContinue
	default:
		return nil, types.Errorf(types.ErrRecipeInvalid, "step %q: on_failure must be stop or continue", id)
	}

	// Deduplicate dependencies preserving declaration order.
	seen := make(map[string]bool, len(raw.DependsOn))
	deps := make([]string, 0, len(raw.DependsOn))
	for _, dep := range raw.DependsOn {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	return &Step{
		ID:               id,
		Prompt:           prompt,
		DependsOn:        deps,
		RetryMaxAttempts: attempts,
		RetryBackoff:     backoff,
		RequireApproval:  raw.RequireApproval,
		OnFailure:        onFailure,
	}, nil
}

func resolveMode(raw string, steps []*Step) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeLinear):
		return ModeLinear, nil
	case string(ModeDAG):
		return ModeDAG, nil
	case "":
		for _, s := range steps {
			if len(s.DependsOn) > 0 {
				return ModeDAG, nil
			}
		}
		return ModeLinear, nil
	default:
		return "", types.Errorf(types.ErrRecipeInvalid, "mode must be linear or dag, got %q", raw)
	}
}

func (r *Recipe) validateDependencies() error {
	for _, step := range r.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return types.Errorf(types.ErrSelfDependency, "step %q cannot depend on itself", step.ID)
			}
			if _, ok := r.byID[dep]; !ok {
				return types.Errorf(types.ErrUnknownDependency, "step %q depends on unknown step %q", step.ID, dep)
			}
		}
	}
	return nil
}

// ensureAcyclic runs a Kahn topological pass. Any step that survives
// repeated removal of zero-indegree nodes is part of a cycle; the first
// such step in declaration order is reported.
func (r *Recipe) ensureAcyclic() error {
	indegree := make(map[string]int, len(r.Steps))
	dependents := r.Dependents()
	for _, s := range r.Steps {
		indegree[s.ID] = len(s.DependsOn)
	}

	queue := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(r.Steps) {
		for _, s := range r.Steps {
			if indegree[s.ID] > 0 {
				return types.Errorf(types.ErrCyclicDependency, "step %q is part of a dependency cycle", s.ID)
			}
		}
	}
	return nil
}
