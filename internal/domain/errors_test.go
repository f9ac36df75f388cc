package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTunnelErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := &TunnelError{TunnelID: "t1", Op: "dispatch", Err: base}

	assert.True(t, errors.Is(err, base))
	assert.Equal(t, "tunnel t1: dispatch: boom", err.Error())
}

func TestTunnelErrorWithoutID(t *testing.T) {
	base := errors.New("boom")
	err := &TunnelError{Op: "register", Err: base}
	assert.Equal(t, "register: boom", err.Error())
}
