package app

import "fmt"

// PanicError carries a recovered panic to the App error handler.
type PanicError struct {
	Value any
	// Stack is the goroutine stack at recovery, when captured. It is logged,
	// never sent to clients.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panic value that is itself an error, such as a
// runtime.Error from an integer division by zero.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
