package ticketing

import "time"

const (
	operationCreate   = "create"
	operationComplete = "complete"
	operationCancel   = "cancel"
	operationResume   = "resume"
	operationSweep    = "sweep"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultHoldTTL is how long a pending order keeps its inventory hold.
	DefaultHoldTTL = 15 * time.Minute
)
