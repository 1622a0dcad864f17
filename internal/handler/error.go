package handler

import "fmt"

// UnknownRegionError is returned when a guild asks for a region no
// node is configured in.
type UnknownRegionError struct {
	Region string
}

func (e *UnknownRegionError) Error() string {
	return fmt.Sprintf("no node is configured in region %q", e.Region)
}

var _ error = (*UnknownRegionError)(nil)

// UserError is an error type that is used to represent
// an error that should be displayed to the user.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

var _ error = (*UserError)(nil)
