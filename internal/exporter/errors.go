package exporter

import (
	"errors"
	"fmt"
	"reflect"
)

// Stage names a step of the export workflow.
type Stage string

const (
	StageConfig  Stage = "config"
	StageConnect Stage = "connect"
	StageSearch  Stage = "search"
	StageWrite   Stage = "write"
)

// ErrNotBound is returned when a connection was opened but no bind took place.
var ErrNotBound = errors.New("directory session is not bound")

// StageError tags an error with the workflow stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err.
func StageOf(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

// Describe renders err as "Type(message)", naming the first error in the chain
// that is not a plain fmt wrapper. A StageError is described by its cause.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		err = stageErr.Err
	}

	msg := err.Error()
	typed := err
	for isPlainWrapper(typed) {
		next := errors.Unwrap(typed)
		if next == nil {
			break
		}
		typed = next
	}

	return fmt.Sprintf("%s(%s)", typeName(typed), msg)
}

func isPlainWrapper(err error) bool {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() == "fmt"
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.PkgPath() {
	case "errors", "fmt":
		return "Error"
	}
	return t.Name()
}
