package flotillaerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrAlreadyExists(t *testing.T) {
	err := &ErrAlreadyExists{Type: "job", Value: "save-results"}
	assert.Equal(t, `resource "save-results" of type "job" already exists`, err.Error())

	err = &ErrAlreadyExists{Value: "save-results", Message: "job names must be unique"}
	assert.Equal(t, `resource "save-results" already exists; job names must be unique`, err.Error())
}

func TestErrNotFound(t *testing.T) {
	err := &ErrNotFound{Type: "run", Value: "01gkw254r9xyz"}
	assert.Equal(t, `resource "01gkw254r9xyz" of type "run" does not exist`, err.Error())
}

func TestErrInvalidArgument(t *testing.T) {
	err := &ErrInvalidArgument{Name: "name", Value: "bad name!", Message: "contains illegal characters"}
	assert.Equal(t, `value "bad name!" is invalid for field "name"; contains illegal characters`, err.Error())

	err = &ErrInvalidArgument{Name: "script", Value: ""}
	assert.Equal(t, `value "" is invalid for field "script"`, err.Error())
}
