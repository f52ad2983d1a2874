package domain

import "strings"

// ValidationError collects every problem found in a declaration.
type ValidationError struct {
	Subject string
	Issues  []string
}

func (e *ValidationError) Error() string {
	prefix := "validation failed"
	if e.Subject != "" {
		prefix = e.Subject + " validation failed"
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
