package extjob

import "strings"

// Workflow is the ordered list of jobs every member of an ensemble runs.
type Workflow struct {
	defs []Definition
}

// NewWorkflow resolves names against reg, in order, and freezes reg.
// The same job may appear more than once.
func NewWorkflow(reg *Registry, names ...string) (*Workflow, error) {
	defs := make([]Definition, 0, len(names))
	for _, n := range names {
		def, err := reg.Lookup(n)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	reg.freeze()
	return &Workflow{defs: defs}, nil
}

func (w *Workflow) Len() int {
	return len(w.defs)
}

// At returns a copy of the i'th definition.
func (w *Workflow) At(i int) Definition {
	return w.defs[i].clone()
}

// Names lists the job names in order.
func (w *Workflow) Names() []string {
	names := make([]string, len(w.defs))
	for i, d := range w.defs {
		names[i] = d.Name
	}
	return names
}

func (w *Workflow) String() string {
	return strings.Join(w.Names(), " -> ")
}
