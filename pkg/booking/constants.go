package booking

const (
	operationCancel       = "cancel"
	operationComplete     = "complete"
	operationReviewRefund = "review_refund"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	cancellationReasonPendingApproval = "awaiting manual approval"
)
