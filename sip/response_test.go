package sip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewResponseFromRequestSetsContentLengthOnNilBody covers spec.md §4.4:
// Content-Length must be present, computed as 0, even when no body is given
// to provisional and final no-body responses built through this helper.
func TestNewResponseFromRequestSetsContentLengthOnNilBody(t *testing.T) {
	req := NewRequest(INVITE, Uri{Host: "example.com"})
	req.AppendHeader(NewHeader("Via", "SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bKabc"))
	req.AppendHeader(NewHeader("From", "<sip:caller@example.com>;tag=1"))
	req.AppendHeader(NewHeader("To", "<sip:100@example.com>"))
	req.AppendHeader(NewHeader("Call-ID", "abc123"))
	req.AppendHeader(NewHeader("CSeq", "1 INVITE"))

	for _, tc := range []struct {
		status StatusCode
		reason string
	}{
		{StatusTrying, "Trying"},
		{StatusRinging, "Ringing"},
		{StatusBusyHere, "Busy Here"},
		{StatusRequestTerminated, "Request Terminated"},
		{StatusOK, "OK"},
	} {
		res := NewResponseFromRequest(req, tc.status, tc.reason, nil)
		cl, ok := res.ContentLength()
		require.True(t, ok, "%d %s missing Content-Length", tc.status, tc.reason)
		require.Equal(t, ContentLengthHeader(0), *cl)
		require.Contains(t, res.String(), "Content-Length: 0")
	}
}

func TestNewResponseFromRequestComputesContentLengthFromBody(t *testing.T) {
	req := NewRequest(INVITE, Uri{Host: "example.com"})
	req.AppendHeader(NewHeader("Via", "SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bKabc"))
	req.AppendHeader(NewHeader("From", "<sip:caller@example.com>;tag=1"))
	req.AppendHeader(NewHeader("To", "<sip:100@example.com>"))
	req.AppendHeader(NewHeader("Call-ID", "abc123"))
	req.AppendHeader(NewHeader("CSeq", "1 INVITE"))

	body := []byte("v=0\r\no=- 0 0 IN IP4 192.0.2.10\r\n")
	res := NewResponseFromRequest(req, StatusOK, "OK", body)
	cl, ok := res.ContentLength()
	require.True(t, ok)
	require.Equal(t, ContentLengthHeader(len(body)), *cl)
	require.True(t, strings.HasSuffix(res.String(), string(body)))
}
