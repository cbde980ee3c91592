package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

type errorKind int

const (
	kindConfig errorKind = iota + 1
	kindQuota
	kindUpstream
)

// Error is the single failure type returned by Orchestrator.Chat.
type Error struct {
	kind errorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func configError(format string, args ...any) *Error {
	return &Error{kind: kindConfig, msg: fmt.Sprintf(format, args...)}
}

// errNoReply marks a well-formed response that carried no text.
var errNoReply = errors.New("no reply text produced")

var quotaMarkers = []string{"429", "quota", "rate limit"}

// isQuotaError reports whether err signals rate limiting or an exhausted quota.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && quotaStatus(apiErr) {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && quotaStatus(*apiErrPtr) {
		return true
	}

	// Structured errors that do not match still go through the text markers.
	text := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func quotaStatus(e genai.APIError) bool {
	return e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

// exhaustedError builds the error surfaced once every model in the chain failed.
func exhaustedError(lastErr error) *Error {
	switch {
	case lastErr == nil:
		return &Error{kind: kindUpstream, msg: "could not reach Gemini; check the network connection and try again"}
	case isQuotaError(lastErr):
		return &Error{
			kind: kindQuota,
			msg:  "Gemini quota exhausted (429): try again in a moment or switch GEMINI_MODEL to another model",
			err:  lastErr,
		}
	default:
		return &Error{kind: kindUpstream, msg: fmt.Sprintf("gemini error: %v", lastErr), err: lastErr}
	}
}
