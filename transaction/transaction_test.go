package transaction

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gosoftphone/core/sip"
)

func newRequestWithBranch(method sip.RequestMethod, branch string, cseq uint32) *sip.Request {
	req := sip.NewRequest(method, sip.Uri{Host: "example.com"})
	via := &sip.ViaHeader{Transport: "UDP", Host: "192.0.2.1", Port: 5060, Params: map[string]string{"branch": branch}}
	req.AppendHeader(via)
	cs := sip.CSeqHeader{SeqNo: cseq, Method: method}
	req.AppendHeader(&cs)
	callID := sip.CallIDHeader("call-1")
	req.AppendHeader(&callID)
	return req
}

func TestClientTxMatchesFinalResponse(t *testing.T) {
	req := newRequestWithBranch(sip.REGISTER, "z9hG4bK-1", 1)

	var sent []*sip.Request
	tx, err := NewClientTx(req, func(r *sip.Request) error {
		sent = append(sent, r)
		return nil
	}, false, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, sent, 1)

	res := sip.NewResponse(sip.StatusOK, "OK")
	via := &sip.ViaHeader{Transport: "UDP", Host: "192.0.2.1", Port: 5060, Params: map[string]string{"branch": "z9hG4bK-1"}}
	res.AppendHeader(via)
	cs := sip.CSeqHeader{SeqNo: 1, Method: sip.REGISTER}
	res.AppendHeader(&cs)

	tx.Receive(res)

	select {
	case got := <-tx.Responses():
		require.Equal(t, sip.StatusOK, got.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("no response delivered")
	}

	select {
	case <-tx.Done():
	case <-time.After(time.Second):
		t.Fatal("transaction never finished")
	}
}

func TestClientTxRetriesThenGivesUp(t *testing.T) {
	orig := RegisterRetryInterval
	RegisterRetryInterval = 20 * time.Millisecond
	defer func() { RegisterRetryInterval = orig }()

	req := newRequestWithBranch(sip.REGISTER, "z9hG4bK-2", 1)

	sendCount := 0
	done := make(chan struct{}, 1)
	tx, err := NewClientTx(req, func(r *sip.Request) error {
		sendCount++
		return nil
	}, true, zerolog.Nop())
	require.NoError(t, err)

	go func() {
		<-tx.Done()
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transaction never gave up")
	}
	require.Equal(t, RegisterMaxRetries, sendCount)

	_, open := <-tx.Responses()
	require.False(t, open)
}

func TestLayerRoutesResponseToClientTx(t *testing.T) {
	layer := NewLayer(func(r *sip.Request) error { return nil }, func(r *sip.Response) error { return nil })

	req := newRequestWithBranch(sip.OPTIONS, "z9hG4bK-3", 1)
	tx, err := layer.Request(req, false)
	require.NoError(t, err)

	res := sip.NewResponse(sip.StatusOK, "OK")
	via := &sip.ViaHeader{Transport: "UDP", Host: "192.0.2.1", Port: 5060, Params: map[string]string{"branch": "z9hG4bK-3"}}
	res.AppendHeader(via)
	cs := sip.CSeqHeader{SeqNo: 1, Method: sip.OPTIONS}
	res.AppendHeader(&cs)

	layer.HandleMessage(res)

	select {
	case got := <-tx.Responses():
		require.Equal(t, sip.StatusOK, got.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("layer did not deliver response to transaction")
	}
}

func TestLayerDispatchesUnmatchedRequestToOnRequest(t *testing.T) {
	layer := NewLayer(func(r *sip.Request) error { return nil }, func(r *sip.Response) error { return nil })

	var gotReq *sip.Request
	got := make(chan struct{}, 1)
	layer.OnRequest = func(req *sip.Request, tx *ServerTx) {
		gotReq = req
		got <- struct{}{}
	}

	req := newRequestWithBranch(sip.OPTIONS, "z9hG4bK-4", 1)
	layer.HandleMessage(req)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("OnRequest never called")
	}
	require.Equal(t, sip.OPTIONS, gotReq.Method)
}

func TestLayerDropsRetransmittedRequest(t *testing.T) {
	layer := NewLayer(func(r *sip.Request) error { return nil }, func(r *sip.Response) error { return nil })

	count := 0
	layer.OnRequest = func(req *sip.Request, tx *ServerTx) { count++ }

	req := newRequestWithBranch(sip.OPTIONS, "z9hG4bK-5", 1)
	layer.HandleMessage(req)
	layer.HandleMessage(req)

	require.Equal(t, 1, count)
}
