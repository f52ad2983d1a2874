package constraint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cmip-ref/ref-go/internal/domain"
)

var (
	// ErrNotSatisfied rejects a group. It never escapes Pipeline.Apply.
	ErrNotSatisfied = errors.New("constraint not satisfied")
	// ErrNotImplemented marks a constraint that cannot be evaluated yet.
	ErrNotImplemented = errors.New("constraint not implemented")
)

// Operation transforms a group. Implementations must not modify the input
// group and should return it unchanged when there is nothing to do.
type Operation interface {
	Apply(group domain.Group, catalog domain.Catalog) (domain.Group, error)
}

// Validator checks a group after any operation of the same constraint ran.
type Validator interface {
	Validate(group domain.Group) bool
}

// Constraint exposes an Operation, a Validator, or both.
type Constraint struct {
	Name      string
	Operation Operation
	Validator Validator
}

func (c Constraint) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("constraint name is required")
	}
	if c.Operation == nil && c.Validator == nil {
		return fmt.Errorf("constraint %q has neither an operation nor a validator", c.Name)
	}
	return nil
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(group domain.Group, catalog domain.Catalog) (domain.Group, error)

func (f OperationFunc) Apply(group domain.Group, catalog domain.Catalog) (domain.Group, error) {
	return f(group, catalog)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(group domain.Group) bool

func (f ValidatorFunc) Validate(group domain.Group) bool { return f(group) }
