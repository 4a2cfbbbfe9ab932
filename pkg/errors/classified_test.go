package errors

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err       error
		kind      Kind
		retryable bool
	}{
		"deadline":       {err: fmt.Errorf("send: %w", context.DeadlineExceeded), kind: KindTimeout, retryable: true},
		"conn reset":     {err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, kind: KindNetwork, retryable: true},
		"conn refused":   {err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), kind: KindNetwork, retryable: true},
		"dns":            {err: &net.DNSError{Err: "no such host", Name: "graph.example"}, kind: KindNetwork, retryable: true},
		"unexpected eof": {err: io.ErrUnexpectedEOF, kind: KindNetwork, retryable: true},
		"5xx":            {err: &StatusError{Code: 503}, kind: KindServer, retryable: true},
		"401":            {err: &StatusError{Code: 401}, kind: KindAuth, retryable: false},
		"400":            {err: &StatusError{Code: 400}, kind: KindValidation, retryable: false},
		"429":            {err: &StatusError{Code: 429}, kind: KindValidation, retryable: false},
		"other":          {err: fmt.Errorf("boom"), kind: KindUnexpected, retryable: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ce := Classify(tc.err)
			require.NotNil(t, ce)
			assert.Equal(t, tc.kind, ce.Kind)
			assert.Equal(t, tc.retryable, ce.Retryable)
		})
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	original := NewClassified(KindAuth, "credential fetch failed", nil)
	wrapped := fmt.Errorf("whatsapp: %w", original)

	ce := Classify(wrapped)
	assert.Same(t, original, ce)
	assert.Nil(t, Classify(nil))
}

func TestClassifiedErrorMatchesSentinels(t *testing.T) {
	ce := NewClassified(KindValidation, "bad phone", nil)
	assert.True(t, Is(ce, ErrValidation))
	assert.False(t, Is(ce, ErrUnavailable))

	server := FromStatus(502, "bad gateway", nil)
	assert.True(t, Is(server, ErrUnavailable))
}

func TestWithOriginKeepsExistingFields(t *testing.T) {
	ce := NewClassified(KindServer, "oops", nil)
	ce.Server = "calendar"

	tagged := ce.WithOrigin("whatsapp", "send", "trace-1")
	assert.Equal(t, "calendar", tagged.Server)
	assert.Equal(t, "send", tagged.Method)
	assert.Equal(t, "trace-1", tagged.TraceID)
	assert.Empty(t, ce.Method, "original must stay immutable")
}
