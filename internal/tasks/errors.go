package tasks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Guard and lookup failures surfaced to the transport layer. Backend
// detail never rides on these; unexpected failures collapse to
// ErrInternal with the real cause logged and recorded as an error
// notification.
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrTaskCancelled       = errors.New("task has been cancelled")
	ErrTaskCompleted       = errors.New("task has already been completed")
	ErrTaskAlreadyApproved = errors.New("task has already been approved")
	ErrActionsInvalid      = errors.New("task actions failed validation")
	ErrInternal            = errors.New("something went wrong, will be investigated")
)

// FieldErrors maps payload field names to validation messages.
type FieldErrors map[string][]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("invalid fields: %s", strings.Join(fields, ", "))
}

// Add appends a message for a field.
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}
