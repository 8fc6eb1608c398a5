package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationKind classifies why a module was rejected at load time.
type ValidationKind int

const (
	ValidationMalformed ValidationKind = iota
	ValidationDisallowedImport
	ValidationDisallowedInstruction
	ValidationTooLarge
)

func (k ValidationKind) String() string {
	switch k {
	case ValidationMalformed:
		return "malformed"
	case ValidationDisallowedImport:
		return "disallowed-import"
	case ValidationDisallowedInstruction:
		return "disallowed-instruction"
	case ValidationTooLarge:
		return "too-large"
	}
	return "unknown"
}

// ValidationError is raised by the loader before any execution. It never
// consumes gas and never touches the state store.
type ValidationError struct {
	Kind ValidationKind
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Msg)
}

// FailureKind classifies an ExecutionFailure.
type FailureKind int

const (
	FailureValidation FailureKind = iota
	FailureTrap
	FailureOutOfGas
	FailureStackOverflow
	FailureMemoryFault
	FailureUnknownRoot
)

func (k FailureKind) String() string {
	switch k {
	case FailureValidation:
		return "validation"
	case FailureTrap:
		return "trap"
	case FailureOutOfGas:
		return "out-of-gas"
	case FailureStackOverflow:
		return "stack-overflow"
	case FailureMemoryFault:
		return "memory-fault"
	case FailureUnknownRoot:
		return "unknown-root"
	}
	return "unknown"
}

// ExecutionFailure is the structured outcome of a failed top-level
// invocation. The state root is left untouched whenever one is returned.
type ExecutionFailure struct {
	Kind    FailureKind
	Msg     string
	GasUsed uint64
}

func (e *ExecutionFailure) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("execution failed: %s", e.Kind)
	}
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Msg)
}

// StoreError is raised by the persistence layer.
type StoreError struct {
	Msg string
}

func (e *StoreError) Error() string { return "store: " + e.Msg }

func ErrUnknownRoot(root common.Hash) *StoreError {
	return &StoreError{Msg: fmt.Sprintf("unknown root %x", root)}
}
