package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want FailureReason
	}{
		{name: "empty", msg: "", want: ReasonUnknown},
		{name: "whitespace", msg: "   ", want: ReasonUnknown},
		{name: "connection refused", msg: "connection refused", want: ReasonConnectionRefused},
		{name: "dial refused", msg: "dial tcp 10.0.0.1:443: connect: Connection Refused", want: ReasonConnectionRefused},
		{name: "connection reset", msg: "read: connection reset by peer", want: ReasonConnectionReset},
		{name: "dns", msg: "dial tcp: lookup crawler.internal: no such host", want: ReasonDNSResolution},
		{name: "rate limited", msg: "HTTP 429 Too Many Requests", want: ReasonRateLimited},
		{name: "unavailable", msg: "503 Service Unavailable", want: ReasonServiceUnavailable},
		{name: "bad gateway", msg: "upstream returned 502", want: ReasonServiceUnavailable},
		{name: "worker timeout", msg: "agent timed out waiting for browser", want: ReasonTimeoutWorker},
		{name: "http timeout", msg: "Client.Timeout exceeded while awaiting headers", want: ReasonTimeoutHTTPRequest},
		{name: "deadline", msg: "context deadline exceeded", want: ReasonTimeoutHTTPRequest},
		{name: "cancelled", msg: "context canceled", want: ReasonJobCancelled},
		{name: "server error", msg: "500 Internal Server Error", want: ReasonServiceError},
		{name: "empty content", msg: "page returned empty content", want: ReasonEmptyContent},
		{name: "blocked", msg: "request blocked by captcha", want: ReasonContentBlocked},
		{name: "invalid content", msg: "unsupported content type application/zip", want: ReasonInvalidContent},
		{name: "parse", msg: "failed to parse model output", want: ReasonParseError},
		{name: "processing", msg: "analysis failed on page 3", want: ReasonProcessingError},
		{name: "unmatched", msg: "the moon is in the wrong phase", want: ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.msg))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o op" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{name: "nil", err: nil, want: ReasonUnknown},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: ReasonTimeoutHTTPRequest},
		{name: "canceled", err: context.Canceled, want: ReasonJobCancelled},
		{
			name: "econnrefused",
			err:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			want: ReasonConnectionRefused,
		},
		{
			name: "econnreset",
			err:  &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			want: ReasonConnectionReset,
		},
		{name: "dns", err: &net.DNSError{Err: "server misbehaving", Name: "x"}, want: ReasonDNSResolution},
		{name: "net timeout", err: timeoutErr{}, want: ReasonTimeoutHTTPRequest},
		{name: "message fallback", err: errors.New("status 503"), want: ReasonServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestFailureReason_Catalog(t *testing.T) {
	for reason, info := range reasonCatalog {
		assert.NotEmpty(t, info.description, reason)
		assert.Equal(t, info.category, reason.Category())
		assert.Equal(t, reason, ParseFailureReason(reason.String()))
	}

	assert.Equal(t, FailureCategoryUnknown, FailureReason("made_up").Category())
	assert.Equal(t, ReasonUnknown, ParseFailureReason("made_up"))
	assert.Equal(t, ReasonNone, ParseFailureReason(""))
	assert.True(t, ReasonTimeoutSubTaskDeadline.IsTimeout())
	assert.False(t, ReasonConnectionRefused.IsTimeout())
}
