package sip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderOrderPreservedAndDuplicatesRetained(t *testing.T) {
	req := NewRequest(INVITE, Uri{Host: "example.com"})
	req.AppendHeader(NewHeader("X-Trace", "one"))
	req.AppendHeader(NewHeader("X-Trace", "two"))
	req.AppendHeader(NewHeader("X-Other", "three"))

	all := req.Headers()
	require.Len(t, all, 3)
	require.Equal(t, "one", all[0].Value())
	require.Equal(t, "two", all[1].Value())

	dups := req.GetHeaders("x-trace")
	require.Len(t, dups, 2)
}

func TestRemoveAndReplaceHeader(t *testing.T) {
	req := NewRequest(REGISTER, Uri{Host: "example.com"})
	cl := ContentLengthHeader(0)
	req.AppendHeader(&cl)
	req.RemoveHeader("Content-Length")
	_, ok := req.ContentLength()
	require.False(t, ok)

	e1 := ExpiresHeader(300)
	req.AppendHeader(&e1)
	e2 := ExpiresHeader(3600)
	req.ReplaceHeader(&e2)
	h := req.GetHeader("expires")
	require.Equal(t, "3600", h.Value())
}

func TestAddressStringWithTag(t *testing.T) {
	a := Address{
		DisplayName: "Alice",
		URI:         Uri{User: "alice", Host: "example.com"},
		Params:      map[string]string{"tag": "abc123"},
	}
	from := &FromHeader{a}
	require.Contains(t, from.String(), `"Alice" <sip:alice@example.com>;tag=abc123`)
	require.Equal(t, "abc123", from.Tag())
}

func TestCopyHeadersClonesIndependently(t *testing.T) {
	src := NewRequest(INVITE, Uri{Host: "example.com"})
	callID := CallIDHeader("abc")
	src.AppendHeader(&callID)

	dst := NewRequest(BYE, Uri{Host: "example.com"})
	CopyHeaders("call-id", src, dst)

	got, ok := dst.CallID()
	require.True(t, ok)
	require.Equal(t, "abc", string(*got))

	*got = "mutated"
	orig, _ := src.CallID()
	require.Equal(t, "abc", string(*orig))
}
