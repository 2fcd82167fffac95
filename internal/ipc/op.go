// Package ipc is the call layer between the shell and the backend. Every call goes
// out as a Request and comes back as an Envelope of {success, message, result}.
package ipc

import (
	"errors"
	"fmt"
	"strings"
)

// Op names a backend operation.
type Op string

const (
	OpRestart    Op = "restart"
	OpStop       Op = "stop"
	OpLogs       Op = "logs"
	OpSelectFile Op = "select_file"
)

// ErrUnknownOperation is returned for any op outside the fixed set.
var ErrUnknownOperation = errors.New("unknown operation")

var allOps = []Op{OpRestart, OpStop, OpLogs, OpSelectFile}

// Ops lists every supported operation.
func Ops() []Op {
	out := make([]Op, len(allOps))
	copy(out, allOps)
	return out
}

// Valid reports whether o is one of the supported operations.
func (o Op) Valid() bool {
	switch o {
	case OpRestart, OpStop, OpLogs, OpSelectFile:
		return true
	}
	return false
}

func (o Op) String() string {
	return string(o)
}

// ParseOp maps a wire name onto an Op.
func ParseOp(name string) (Op, error) {
	op := Op(strings.TrimSpace(name))
	if !op.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownOperation, name)
	}
	return op, nil
}
