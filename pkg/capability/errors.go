package capability

import "fmt"

// DuplicateCapabilityError is returned when registering a name that is
// already taken and replacement was not requested
type DuplicateCapabilityError struct {
	Name string
}

func (e *DuplicateCapabilityError) Error() string {
	return fmt.Sprintf("capability %q is already registered", e.Name)
}

// CapabilityNotFoundError is returned when resolving an unknown name
type CapabilityNotFoundError struct {
	Name string
}

func (e *CapabilityNotFoundError) Error() string {
	return fmt.Sprintf("capability %q not found", e.Name)
}
