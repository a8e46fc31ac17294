package types

import "fmt"

var errMissingOpinion = fmt.Errorf("agent opinion is nil")

func errMissingField(field string) error {
	return fmt.Errorf("agent opinion missing required field %q", field)
}

func errInvalidField(field, reason string) error {
	return fmt.Errorf("agent opinion field %q invalid: %s", field, reason)
}
