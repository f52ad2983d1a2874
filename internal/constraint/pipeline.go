package constraint

import (
	"errors"
	"fmt"

	"github.com/cmip-ref/ref-go/internal/domain"
)

// Outcome is the result of running a group through a pipeline.
type Outcome struct {
	Accepted bool
	Group    domain.Group

	// Set when Accepted is false.
	RejectedBy string
	Reason     error
}

// Pipeline applies constraints in declared order.
type Pipeline struct {
	constraints []Constraint
}

// NewPipeline checks every constraint's capabilities up front.
func NewPipeline(constraints ...Constraint) (*Pipeline, error) {
	verr := &domain.ValidationError{Subject: "constraint pipeline"}
	for i, c := range constraints {
		if err := c.Validate(); err != nil {
			verr.Add(fmt.Sprintf("constraints[%d]: %v", i, err))
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &Pipeline{constraints: append([]Constraint(nil), constraints...)}, nil
}

func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.constraints)
}

// Apply runs each constraint's operation then its validator. The first
// rejection stops the pipeline and yields an unaccepted Outcome. Any other
// error is returned as is.
func (p *Pipeline) Apply(group domain.Group, catalog domain.Catalog) (Outcome, error) {
	current := group
	if p == nil {
		return Outcome{Accepted: true, Group: current}, nil
	}
	for _, c := range p.constraints {
		if c.Operation != nil {
			next, err := c.Operation.Apply(current, catalog)
			if err != nil {
				if errors.Is(err, ErrNotSatisfied) {
					return Outcome{Group: group, RejectedBy: c.Name, Reason: err}, nil
				}
				return Outcome{}, fmt.Errorf("constraint %s: %w", c.Name, err)
			}
			current = next
		}
		if c.Validator != nil && !c.Validator.Validate(current) {
			return Outcome{Group: group, RejectedBy: c.Name, Reason: ErrNotSatisfied}, nil
		}
	}
	return Outcome{Accepted: true, Group: current}, nil
}
