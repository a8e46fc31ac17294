package agentruntime

import "fmt"

func errFromPanic(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("agent panicked: %w", err)
	}
	return fmt.Errorf("agent panicked: %v", rec)
}
