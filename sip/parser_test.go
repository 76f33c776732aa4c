package sip

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestRoundTrip(t *testing.T) {
	raw := "REGISTER sip:pbx.example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bK776asdhds\r\n" +
		"From: \"Alice\" <sip:alice@example.com>;tag=1928301774\r\n" +
		"To: <sip:alice@example.com>\r\n" +
		"Call-ID: a84b4c76e66710\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Contact: <sip:alice@192.0.2.1:5060;transport=udp>\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	require.Equal(t, REGISTER, req.Method)
	require.Equal(t, "pbx.example.com", req.Recipient.Host)

	via, ok := req.Via()
	require.True(t, ok)
	require.Equal(t, "UDP", via.Transport)
	require.Equal(t, "z9hG4bK776asdhds", via.Branch())

	from, ok := req.From()
	require.True(t, ok)
	require.Equal(t, "1928301774", from.Tag())

	cseq, ok := req.CSeq()
	require.True(t, ok)
	require.EqualValues(t, 1, cseq.SeqNo)
	require.Equal(t, REGISTER, cseq.Method)

	// Re-serializing preserves start line, header multiset and body bytes.
	out := req.String()
	msg2, err := ParseMessage([]byte(out))
	require.NoError(t, err)
	req2 := msg2.(*Request)
	require.Equal(t, req.StartLine(), req2.StartLine())
	require.Equal(t, req.Body(), req2.Body())
	require.Equal(t, len(req.Headers()), len(req2.Headers()))
}

func TestParseResponseWithBody(t *testing.T) {
	body := "v=0\r\no=- 1 1 IN IP4 203.0.113.5\r\n"
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bK776asdhds\r\n" +
		"From: <sip:alice@example.com>;tag=1928301774\r\n" +
		"To: <sip:bob@example.com>;tag=a6c85cf\r\n" +
		"Call-ID: a84b4c76e66710\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"\r\n" + body

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	res, ok := msg.(*Response)
	require.True(t, ok)
	require.Equal(t, StatusOK, res.StatusCode)
	require.Equal(t, []byte(body), res.Body())

	to, ok := res.To()
	require.True(t, ok)
	require.Equal(t, "a6c85cf", to.Tag())
}

func TestContentLengthAlwaysComputed(t *testing.T) {
	req := NewRequest(INVITE, Uri{Host: "example.com"})
	cl := ContentLengthHeader(999)
	req.AppendHeader(&cl)
	req.SetBody([]byte("hello"))

	got, ok := req.ContentLength()
	require.True(t, ok)
	require.EqualValues(t, 5, *got)
}
