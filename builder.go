package maestro

import (
	"fmt"

	"github.com/petrijr/maestro/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining workflows:
//
//	wf := maestro.NewWorkflow("web-app", "Web app delivery").
//	    Step("analyze", "analyst",
//	        maestro.InPhase(maestro.PhaseDiscovery),
//	        maestro.WithOutputKey("analysis")).
//	    Parallel(
//	        maestro.Step("frontend", "builder", maestro.InPhase(maestro.PhaseBuild)),
//	        maestro.Step("backend", "builder", maestro.InPhase(maestro.PhaseBuild)),
//	    ).
//	    Step("validate", "qa",
//	        maestro.InPhase(maestro.PhaseValidate),
//	        maestro.When(maestro.NotEmpty("analysis")))
//
//	if err := wf.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
type WorkflowBuilder struct {
	def       api.WorkflowDefinition
	nextGroup int
}

// NewWorkflow creates a new workflow builder with the given ID and
// human-readable name.
func NewWorkflow(id, name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def: api.WorkflowDefinition{
			ID:    id,
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
		nextGroup: 1,
	}
}

// ID returns the workflow ID.
func (b *WorkflowBuilder) ID() string {
	return b.def.ID
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *WorkflowBuilder) Definition() WorkflowDefinition {
	return b.def
}

// StepOption customizes a step definition.
type StepOption func(*api.StepDefinition)

// InPhase assigns the step to a delivery phase.
func InPhase(phase Phase) StepOption {
	return func(s *api.StepDefinition) { s.Phase = phase }
}

// WithInstructions sets the opaque instructions handed to the worker.
func WithInstructions(instructions string) StepOption {
	return func(s *api.StepDefinition) { s.Instructions = instructions }
}

// WithOutputKey merges the step's output into the execution context under
// the given key on success.
func WithOutputKey(key string) StepOption {
	return func(s *api.StepDefinition) { s.OutputKey = key }
}

// When gates the step on a precondition.
func When(cond Condition) StepOption {
	return func(s *api.StepDefinition) { s.Condition = cond }
}

// Step constructs a step definition for use with Parallel.
func Step(name, agentType string, opts ...StepOption) StepDefinition {
	if name == "" {
		panic("maestro: step name must not be empty")
	}
	if agentType == "" {
		panic(fmt.Sprintf("maestro: step %q has no agent type", name))
	}
	s := api.StepDefinition{Name: name, AgentType: agentType}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Step appends a sequential step to the workflow.
func (b *WorkflowBuilder) Step(name, agentType string, opts ...StepOption) *WorkflowBuilder {
	b.def.Steps = append(b.def.Steps, Step(name, agentType, opts...))
	return b
}

// Parallel appends steps that are dispatched concurrently and awaited
// together before the workflow advances.
func (b *WorkflowBuilder) Parallel(steps ...StepDefinition) *WorkflowBuilder {
	if len(steps) == 0 {
		panic("maestro: Parallel requires at least one step")
	}
	group := b.nextGroup
	b.nextGroup++
	for _, s := range steps {
		s.Group = group
		b.def.Steps = append(b.def.Steps, s)
	}
	return b
}

// Register registers the built workflow with the given engine.
func (b *WorkflowBuilder) Register(eng Engine) error {
	return eng.RegisterWorkflow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *WorkflowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
