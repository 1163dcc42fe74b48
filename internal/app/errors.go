package app

import "fmt"

// DomainError is a failure the HTTP layer reports as
// {"code","error","details"} with Status.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code and message so a copy carrying Details still equals
// the sentinel it came from.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

// withDetails returns a copy of e carrying details.
func (e *DomainError) withDetails(details any) *DomainError {
	out := *e
	out.Details = details
	return &out
}
