package jobs

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	regexp "github.com/wasilibs/go-re2"
)

// FailureCategory groups failure reasons by their likely cause.
type FailureCategory string

const (
	FailureCategoryTimeout      FailureCategory = "timeout"
	FailureCategoryConnection   FailureCategory = "connection"
	FailureCategoryService      FailureCategory = "service"
	FailureCategoryContent      FailureCategory = "content"
	FailureCategoryProcessing   FailureCategory = "processing"
	FailureCategoryCancellation FailureCategory = "cancellation"
	FailureCategoryUnknown      FailureCategory = "unknown"
)

// FailureReason is a code from a closed taxonomy explaining why a sub-task or
// job did not produce a result. Reasons are derived by the classifier.
type FailureReason string

const (
	ReasonNone FailureReason = ""

	ReasonTimeoutHTTPRequest     FailureReason = "timeout_http_request"
	ReasonTimeoutJobDeadline     FailureReason = "timeout_job_deadline"
	ReasonTimeoutSubTaskDeadline FailureReason = "timeout_subtask_deadline"
	ReasonTimeoutWorker          FailureReason = "timeout_worker"

	ReasonConnectionRefused FailureReason = "connection_refused"
	ReasonConnectionReset   FailureReason = "connection_reset"
	ReasonDNSResolution     FailureReason = "dns_resolution"

	ReasonServiceUnavailable FailureReason = "service_unavailable"
	ReasonRateLimited        FailureReason = "rate_limited"
	ReasonServiceError       FailureReason = "service_error"

	ReasonEmptyContent   FailureReason = "empty_content"
	ReasonInvalidContent FailureReason = "invalid_content"
	ReasonContentBlocked FailureReason = "content_blocked"

	ReasonProcessingError FailureReason = "processing_error"
	ReasonParseError      FailureReason = "parse_error"

	ReasonJobCancelled FailureReason = "job_cancelled"

	ReasonUnknown FailureReason = "unknown"
)

type reasonInfo struct {
	category    FailureCategory
	description string
}

var reasonCatalog = map[FailureReason]reasonInfo{
	ReasonTimeoutHTTPRequest:     {FailureCategoryTimeout, "The request to the worker timed out"},
	ReasonTimeoutJobDeadline:     {FailureCategoryTimeout, "The job did not finish before its overall deadline"},
	ReasonTimeoutSubTaskDeadline: {FailureCategoryTimeout, "The worker did not report back before the sub-task deadline"},
	ReasonTimeoutWorker:          {FailureCategoryTimeout, "The worker gave up waiting on its own upstream"},
	ReasonConnectionRefused:      {FailureCategoryConnection, "The worker refused the connection"},
	ReasonConnectionReset:        {FailureCategoryConnection, "The connection to the worker was reset"},
	ReasonDNSResolution:          {FailureCategoryConnection, "The worker address could not be resolved"},
	ReasonServiceUnavailable:     {FailureCategoryService, "The worker service is unavailable"},
	ReasonRateLimited:            {FailureCategoryService, "The worker rejected the request due to rate limiting"},
	ReasonServiceError:           {FailureCategoryService, "The worker service returned an internal error"},
	ReasonEmptyContent:           {FailureCategoryContent, "The worker found no content to analyse"},
	ReasonInvalidContent:         {FailureCategoryContent, "The content was not in a format the worker accepts"},
	ReasonContentBlocked:         {FailureCategoryContent, "Access to the content was blocked"},
	ReasonProcessingError:        {FailureCategoryProcessing, "The worker failed while processing the content"},
	ReasonParseError:             {FailureCategoryProcessing, "The worker output could not be parsed"},
	ReasonJobCancelled:           {FailureCategoryCancellation, "The job was cancelled"},
	ReasonUnknown:                {FailureCategoryUnknown, "The failure could not be classified"},
}

func (r FailureReason) String() string { return string(r) }

// Category returns the category of r. Codes outside the taxonomy are unknown.
func (r FailureReason) Category() FailureCategory {
	if info, ok := reasonCatalog[r]; ok {
		return info.category
	}
	return FailureCategoryUnknown
}

// Description returns a human-readable explanation of r.
func (r FailureReason) Description() string {
	if info, ok := reasonCatalog[r]; ok {
		return info.description
	}
	return reasonCatalog[ReasonUnknown].description
}

// IsTimeout reports whether r is in the timeout category.
func (r FailureReason) IsTimeout() bool { return r.Category() == FailureCategoryTimeout }

// ParseFailureReason maps a stored code back to a FailureReason. Codes that
// are no longer in the taxonomy map to ReasonUnknown.
func ParseFailureReason(s string) FailureReason {
	if s == "" {
		return ReasonNone
	}
	if _, ok := reasonCatalog[FailureReason(s)]; ok {
		return FailureReason(s)
	}
	return ReasonUnknown
}

// messageRule maps a pattern over a lower-cased error message to a reason.
// Rules are evaluated in order and the first match wins.
type messageRule struct {
	pattern *regexp.Regexp
	reason  FailureReason
}

var messageRules = []messageRule{
	{regexp.MustCompile(`\bcancel(l)?ed\b`), ReasonJobCancelled},
	{regexp.MustCompile(`connection refused|econnrefused`), ReasonConnectionRefused},
	{regexp.MustCompile(`connection reset|econnreset|broken pipe`), ReasonConnectionReset},
	{regexp.MustCompile(`no such host|enotfound|dns|name resolution`), ReasonDNSResolution},
	{regexp.MustCompile(`\b429\b|rate limit|too many requests|quota exceeded`), ReasonRateLimited},
	{regexp.MustCompile(`\b50[23]\b|service unavailable|bad gateway|overloaded`), ReasonServiceUnavailable},
	{regexp.MustCompile(`(worker|agent|upstream|model) (timed out|timeout)`), ReasonTimeoutWorker},
	{regexp.MustCompile(`\b504\b|timed? ?out|timeout|deadline exceeded`), ReasonTimeoutHTTPRequest},
	{regexp.MustCompile(`\b500\b|internal server error`), ReasonServiceError},
	{regexp.MustCompile(`empty (content|response|body|page)|no content`), ReasonEmptyContent},
	{regexp.MustCompile(`\b403\b|forbidden|access denied|captcha|blocked`), ReasonContentBlocked},
	{regexp.MustCompile(`invalid (content|format|input)|unsupported (content|format|media)`), ReasonInvalidContent},
	{regexp.MustCompile(`parse|unmarshal|decode|invalid json|syntax error`), ReasonParseError},
	{regexp.MustCompile(`process(ing)? (failed|error)|failed to process|analysis failed`), ReasonProcessingError},
}

// ClassifyMessage maps a free-form error message to a FailureReason. It is
// total: messages matching no rule, including the empty message, are
// ReasonUnknown.
func ClassifyMessage(msg string) FailureReason {
	msg = strings.ToLower(strings.TrimSpace(msg))
	if msg == "" {
		return ReasonUnknown
	}

	for _, rule := range messageRules {
		if rule.pattern.MatchString(msg) {
			return rule.reason
		}
	}
	return ReasonUnknown
}

// ClassifyError maps an error value to a FailureReason, inspecting well-known
// error types before falling back to the message text.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ReasonJobCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeoutHTTPRequest
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ReasonConnectionReset
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNSResolution
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeoutHTTPRequest
	}

	return ClassifyMessage(err.Error())
}
