package outcome

// Result is the closed set of attempt result codes recorded on an
// AttemptRecord.
type Result string

const (
	// ResultDelivered means the send attempt was accepted by the remote server.
	ResultDelivered Result = "delivered"
	// ResultValidated means a probe completed and produced a validation result.
	ResultValidated Result = "validated"
	// ResultTempFailed means the attempt hit a retryable failure.
	ResultTempFailed Result = "temp_failed"
	// ResultPermFailed means the attempt hit a permanent rejection.
	ResultPermFailed Result = "perm_failed"
)

// ForError maps an execution error to the attempt result code.
func ForError(err error) Result {
	if err == nil {
		return ResultDelivered
	}
	if IsRetryable(err) {
		return ResultTempFailed
	}
	return ResultPermFailed
}
