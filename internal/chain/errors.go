package chain

import "fmt"

// CompilationError is propagated verbatim from the compiler boundary.
type CompilationError struct {
	Source string
	Err    error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation of %s failed: %v", e.Source, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}
