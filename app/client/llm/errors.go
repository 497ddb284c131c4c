package llm

import (
	"errors"
	"net/http"
	"strings"

	"hearth/app/util/retry"

	"google.golang.org/genai"
)

type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	// ClassTransient covers rate limit, resource exhausted and unavailable.
	ClassTransient
	// ClassQuota is a daily or billing quota; retrying cannot help.
	ClassQuota
	// ClassSignature is a rejected or missing thought signature.
	ClassSignature
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassQuota:
		return "quota"
	case ClassSignature:
		return "signature"
	default:
		return "fatal"
	}
}

var (
	ErrRateLimited    = errors.New("rate limited")
	ErrQuotaExhausted = errors.New("quota exhausted")
	ErrBadSignature   = errors.New("invalid thought signature")
)

// Classify sorts a provider error into the taxonomy used by retry policies
// and the agent state machine.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	switch {
	case errors.Is(err, ErrQuotaExhausted):
		return ClassQuota
	case errors.Is(err, ErrBadSignature):
		return ClassSignature
	case errors.Is(err, ErrRateLimited):
		return ClassTransient
	}

	code, status, message := 0, "", err.Error()

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status, message = apiErr.Code, apiErr.Status, apiErr.Message+" "+message
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, status, message = apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message+" "+message
	}

	lower := strings.ToLower(message)

	if strings.Contains(lower, "thought_signature") ||
		strings.Contains(lower, "thought signature") ||
		strings.Contains(lower, "signature is invalid") {
		return ClassSignature
	}

	if strings.Contains(lower, "perday") ||
		strings.Contains(lower, "per day") ||
		strings.Contains(lower, "daily limit") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "billing") {
		return ClassQuota
	}

	if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable ||
		status == "RESOURCE_EXHAUSTED" || status == "UNAVAILABLE" {
		return ClassTransient
	}

	if strings.Contains(lower, "429") ||
		strings.Contains(lower, "503") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource exhausted") ||
		strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "overloaded") {
		return ClassTransient
	}

	return ClassFatal
}

// RetryDecision adapts Classify for retry.Policy: transient errors are
// retried, quota errors abort at once, everything else fails.
func RetryDecision(err error) retry.Decision {
	switch Classify(err) {
	case ClassTransient:
		return retry.Retry
	case ClassQuota:
		return retry.Abort
	default:
		return retry.Fail
	}
}

// IsRateLimit reports a transient provider error, including one that
// exhausted its retry budget.
func IsRateLimit(err error) bool {
	return Classify(err) == ClassTransient
}
