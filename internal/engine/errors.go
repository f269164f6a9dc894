package engine

import "errors"

// Node failure and skip reasons. Summaries carry them as text; observers and
// tests holding the run state match them with errors.Is.
var (
	ErrActionFailed       = errors.New("action failed")
	ErrPromptTimedOut     = errors.New("prompt timed out")
	ErrInvalidResponse    = errors.New("invalid prompt response")
	ErrCancelled          = errors.New("cancelled")
	ErrConditionUnmatched = errors.New("condition unmatched")
	ErrNotTriggered       = errors.New("not triggered")
)
