package machina

import "fmt"

// ErrorCode represents specific error conditions in the state machine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// State was not found in the definition
	ErrCodeStateNotFound
	// State id is already taken
	ErrCodeStateAlreadyDefined
	// Hierarchy declaration is malformed
	ErrCodeInvalidHierarchy
	// More than one transition is enabled for the same state and event
	ErrCodeAmbiguousTransition
	// Transition declaration is malformed
	ErrCodeInvalidTransition
	// Machine is not in started state
	ErrCodeMachineNotStarted
	// Machine was already started once
	ErrCodeMachineAlreadyStarted
	// Machine has been stopped
	ErrCodeMachineStopped
	// Dispatch was invoked from inside an action
	ErrCodeReentrantDispatch
	// Internal event queue exceeded its limit
	ErrCodeEventOverflow
	// Timer parameters are invalid
	ErrCodeInvalidTimer
	// Clock operation parameters are invalid
	ErrCodeInvalidClock
	// Snapshot cannot be applied to this machine
	ErrCodeInvalidSnapshot
	// Action execution failed
	ErrCodeActionFailed
)

// StateError represents state-related errors
type StateError struct {
	Code    ErrorCode
	StateID string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error [%s]: %s", e.StateID, e.Message)
}

// NewStateNotFoundError creates a new state not found error
func NewStateNotFoundError(stateID string) *StateError {
	return &StateError{
		Code:    ErrCodeStateNotFound,
		StateID: stateID,
		Message: fmt.Sprintf("state '%s' not found", stateID),
	}
}

// NewStateAlreadyDefinedError creates a new duplicate state error
func NewStateAlreadyDefinedError(stateID string) *StateError {
	return &StateError{
		Code:    ErrCodeStateAlreadyDefined,
		StateID: stateID,
		Message: fmt.Sprintf("state '%s' is already defined", stateID),
	}
}

// NewStateError creates a new state error with custom values
func NewStateError(code ErrorCode, stateID string, message string) *StateError {
	return &StateError{
		Code:    code,
		StateID: stateID,
		Message: message,
	}
}

// HierarchyError represents malformed composite/parallel declarations
type HierarchyError struct {
	StateID string
	Issue   string
}

func (e *HierarchyError) Error() string {
	if e.StateID != "" {
		return fmt.Sprintf("hierarchy error at '%s': %s", e.StateID, e.Issue)
	}
	return fmt.Sprintf("hierarchy error: %s", e.Issue)
}

// NewHierarchyError creates a new hierarchy error
func NewHierarchyError(stateID, issue string) *HierarchyError {
	return &HierarchyError{
		StateID: stateID,
		Issue:   issue,
	}
}

// TransitionError represents transition-related errors
type TransitionError struct {
	Code   ErrorCode
	From   string
	To     string
	Event  string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition error [%s->%s on %s]: %s", e.From, e.To, e.Event, e.Reason)
}

// NewTransitionError creates a new transition error with custom values
func NewTransitionError(code ErrorCode, from, to, event, reason string) *TransitionError {
	return &TransitionError{
		Code:   code,
		From:   from,
		To:     to,
		Event:  event,
		Reason: reason,
	}
}

// NewAmbiguousTransitionError creates a new ambiguous transition error
func NewAmbiguousTransitionError(from, event string, enabled int) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeAmbiguousTransition,
		From:   from,
		Event:  event,
		Reason: fmt.Sprintf("%d transitions enabled from state '%s' for event '%s'", enabled, from, event),
	}
}

// MachineError represents state machine operation errors
type MachineError struct {
	Code      ErrorCode
	Operation string
	Message   string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("machine error during %s: %s", e.Operation, e.Message)
}

// NewMachineError creates a new machine error
func NewMachineError(code ErrorCode, operation string, message string) *MachineError {
	return &MachineError{
		Code:      code,
		Operation: operation,
		Message:   message,
	}
}

// NewMachineNotStartedError creates a new machine not started error
func NewMachineNotStartedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeMachineNotStarted,
		Operation: operation,
		Message:   "state machine is not started",
	}
}

// NewMachineAlreadyStartedError creates a new machine already started error
func NewMachineAlreadyStartedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeMachineAlreadyStarted,
		Operation: operation,
		Message:   "state machine was already started",
	}
}

// NewMachineStoppedError creates a new machine stopped error
func NewMachineStoppedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeMachineStopped,
		Operation: operation,
		Message:   "state machine has been stopped",
	}
}

// NewReentrantDispatchError creates a new reentrant dispatch error
func NewReentrantDispatchError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeReentrantDispatch,
		Operation: operation,
		Message:   "invoked from inside an action; queue events with Post instead",
	}
}

// TimerError represents timer registration errors
type TimerError struct {
	Code    ErrorCode
	Owner   string
	Message string
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("timer error [owner %s]: %s", e.Owner, e.Message)
}

// NewInvalidTimerError creates a new invalid timer error
func NewInvalidTimerError(owner, message string) *TimerError {
	return &TimerError{
		Code:    ErrCodeInvalidTimer,
		Owner:   owner,
		Message: message,
	}
}

// ActionError represents action execution errors
type ActionError struct {
	Action      string
	State       string
	OriginalErr error
}

func (e *ActionError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("action '%s' failed in state '%s': %v", e.Action, e.State, e.OriginalErr)
	}
	return fmt.Sprintf("action '%s' failed in state '%s'", e.Action, e.State)
}

func (e *ActionError) Unwrap() error {
	return e.OriginalErr
}

// NewActionError creates a new action execution error
func NewActionError(action, state string, err error) *ActionError {
	return &ActionError{
		Action:      action,
		State:       state,
		OriginalErr: err,
	}
}

// IsStateError checks if an error is a StateError
func IsStateError(err error) bool {
	_, ok := err.(*StateError)
	return ok
}

// IsHierarchyError checks if an error is a HierarchyError
func IsHierarchyError(err error) bool {
	_, ok := err.(*HierarchyError)
	return ok
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	_, ok := err.(*TransitionError)
	return ok
}

// IsMachineError checks if an error is a MachineError
func IsMachineError(err error) bool {
	_, ok := err.(*MachineError)
	return ok
}

// IsTimerError checks if an error is a TimerError
func IsTimerError(err error) bool {
	_, ok := err.(*TimerError)
	return ok
}

// IsActionError checks if an error is an ActionError
func IsActionError(err error) bool {
	_, ok := err.(*ActionError)
	return ok
}

// IsUnknownState checks if an error reports a state missing from the definition
func IsUnknownState(err error) bool {
	return GetErrorCode(err) == ErrCodeStateNotFound
}

// IsInvalidHierarchy checks if an error reports a malformed hierarchy
func IsInvalidHierarchy(err error) bool {
	return GetErrorCode(err) == ErrCodeInvalidHierarchy
}

// IsAmbiguousTransition checks if an error reports conflicting enabled transitions
func IsAmbiguousTransition(err error) bool {
	return GetErrorCode(err) == ErrCodeAmbiguousTransition
}

// IsReentrantDispatch checks if an error reports dispatch from inside an action
func IsReentrantDispatch(err error) bool {
	return GetErrorCode(err) == ErrCodeReentrantDispatch
}

// IsMachineNotStarted checks if an error reports use of an unstarted machine
func IsMachineNotStarted(err error) bool {
	return GetErrorCode(err) == ErrCodeMachineNotStarted
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	switch e := err.(type) {
	case *StateError:
		return e.Code
	case *HierarchyError:
		return ErrCodeInvalidHierarchy
	case *TransitionError:
		return e.Code
	case *MachineError:
		return e.Code
	case *TimerError:
		return e.Code
	case *ActionError:
		return ErrCodeActionFailed
	default:
		return ErrCodeNone
	}
}
