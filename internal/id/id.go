package id

import "github.com/google/uuid"

// New returns a random request ID.
func New() string {
	return uuid.NewString()
}

// Valid reports whether in looks like an ID produced by New, so client
// supplied request IDs can be echoed back safely.
func Valid(in string) bool {
	_, err := uuid.Parse(in)
	return err == nil && len(in) == 36
}
