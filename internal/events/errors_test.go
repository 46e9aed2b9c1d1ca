package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverableError(t *testing.T) {
	err := NewRecoverableError("unable to save %s", "n1")
	assert.Equal(t, "unable to save n1", err.Error())

	var asErr error = err
	_, ok := asErr.(RecoverableError)
	assert.True(t, ok)
}

func TestUnrecoverableError(t *testing.T) {
	err := NewUnrecoverableError("bad body: %d", 42)
	assert.Equal(t, "bad body: 42", err.Error())

	var asErr error = err
	_, ok := asErr.(UnrecoverableError)
	assert.True(t, ok)
}
