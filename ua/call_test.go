package ua

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosoftphone/core/media"
	"github.com/gosoftphone/core/sip"
	"github.com/gosoftphone/core/transaction"
)

// localAudioPeer binds a loopback UDP socket so an engine under test has a
// real destination to send RTP toward, matching media/rtp_test.go's style.
func localAudioPeer(t *testing.T) (ip string, port int, closeFn func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	return "127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port, func() { conn.Close() }
}

func TestInviteBuildsOfferAndSendsInvite(t *testing.T) {
	agent, ft := newTestUA()
	require.NoError(t, agent.Invite("200@192.0.2.1"))

	require.Eventually(t, func() bool { return ft.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
	req := parseSentRequest(t, ft.lastSent())
	require.Equal(t, sip.INVITE, req.Method)
	require.Contains(t, string(req.Body()), "m=audio")

	require.Error(t, agent.Invite("200@192.0.2.1")) // a call already exists
}

// TestInviteSuccessTransitionsToActive covers spec.md §4.7's outbound
// INVITE 200 OK path: the UA ACKs on a new branch reusing the INVITE's
// CSeq, and moves to Active.
func TestInviteSuccessTransitionsToActive(t *testing.T) {
	agent, ft := newTestUA()
	el := collectEvents(agent)
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()

	require.NoError(t, agent.Invite("200@192.0.2.1"))
	require.Eventually(t, func() bool { return ft.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
	invite := parseSentRequest(t, ft.lastSent())
	inviteVia, _ := invite.Via()
	inviteCSeq, _ := invite.CSeq()

	answerSDP := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	res := sip.NewResponseFromRequest(invite, sip.StatusOK, "OK", []byte(answerSDP))
	to, _ := res.To()
	tagged := *to
	tagged.Params = map[string]string{"tag": "remote-tag"}
	res.ReplaceHeader(&tagged)
	ft.deliver(res.String())

	require.Eventually(t, func() bool { return ft.sentCount() >= 2 }, time.Second, 5*time.Millisecond)
	ack := parseSentRequest(t, ft.lastSent())
	require.Equal(t, sip.ACK, ack.Method)
	ackVia, _ := ack.Via()
	require.NotEqual(t, inviteVia.Branch(), ackVia.Branch(), "2xx ACK must use a new branch")
	ackCSeq, _ := ack.CSeq()
	require.Equal(t, inviteCSeq.SeqNo, ackCSeq.SeqNo, "2xx ACK must reuse the INVITE's CSeq number")

	require.Eventually(t, func() bool {
		e, ok := el.lastCallState()
		return ok && e.CallState == CallActive
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, agent.Hangup())
}

// TestInviteNonOKAckReusesBranch covers spec.md §4.7 step 5/RFC 3261
// §17.1.1.3: a non-2xx final response is ACKed on the INVITE's own
// branch and CSeq, transaction-scoped.
func TestInviteNonOKAckReusesBranch(t *testing.T) {
	agent, ft := newTestUA()
	require.NoError(t, agent.Invite("200@192.0.2.1"))
	require.Eventually(t, func() bool { return ft.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
	invite := parseSentRequest(t, ft.lastSent())
	inviteVia, _ := invite.Via()
	inviteCSeq, _ := invite.CSeq()

	res := sip.NewResponseFromRequest(invite, sip.StatusBusyHere, "Busy Here", nil)
	ft.deliver(res.String())

	require.Eventually(t, func() bool { return ft.sentCount() >= 2 }, time.Second, 5*time.Millisecond)
	ack := parseSentRequest(t, ft.lastSent())
	require.Equal(t, sip.ACK, ack.Method)
	ackVia, _ := ack.Via()
	require.Equal(t, inviteVia.Branch(), ackVia.Branch())
	ackCSeq, _ := ack.CSeq()
	require.Equal(t, inviteCSeq.SeqNo, ackCSeq.SeqNo)
}

// TestInviteChallengeRebuildsWithAuth covers the outbound INVITE 401/407
// path: the first attempt is ACKed non-2xx, then a fresh INVITE with
// Authorization and an advanced CSeq is sent.
func TestInviteChallengeRebuildsWithAuth(t *testing.T) {
	agent, ft := newTestUA()
	require.NoError(t, agent.Invite("200@192.0.2.1"))
	require.Eventually(t, func() bool { return ft.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
	first := parseSentRequest(t, ft.lastSent())
	firstCSeq, _ := first.CSeq()

	challenge := sip.NewHeader("WWW-Authenticate", `Digest realm="sip.example.com", nonce="abc123", algorithm=MD5`)
	res := sip.NewResponseFromRequest(first, sip.StatusUnauthorized, "Unauthorized", nil)
	res.AppendHeader(challenge)
	ft.deliver(res.String())

	require.Eventually(t, func() bool { return ft.sentCount() >= 3 }, time.Second, 5*time.Millisecond) // non-2xx ACK + retry INVITE
	msgs := ft.sentMessages()
	retry := parseSentRequest(t, msgs[len(msgs)-1])
	require.Equal(t, sip.INVITE, retry.Method)
	retryCSeq, _ := retry.CSeq()
	require.Greater(t, retryCSeq.SeqNo, firstCSeq.SeqNo)
	require.NotNil(t, retry.GetHeader("Authorization"))
}

func TestInviteRingingThenCancelledByHangup(t *testing.T) {
	agent, ft := newTestUA()
	el := collectEvents(agent)
	require.NoError(t, agent.Invite("200@192.0.2.1"))
	require.Eventually(t, func() bool { return ft.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
	invite := parseSentRequest(t, ft.lastSent())

	ft.deliver(sip.NewResponseFromRequest(invite, sip.StatusRinging, "Ringing", nil).String())
	require.Eventually(t, func() bool {
		e, ok := el.lastCallState()
		return ok && e.CallState == CallRinging
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, agent.Hangup())
	require.Eventually(t, func() bool { return ft.sentCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel := parseSentRequest(t, ft.lastSent())
	require.Equal(t, sip.CANCEL, cancel.Method)

	e, ok := el.lastCallState()
	require.True(t, ok)
	require.Equal(t, CallIdle, e.CallState)
}

// --- Inbound ---

func deliverInboundInvite(t *testing.T, agent *UserAgent, ft *fakeTransport, offerSDP string) {
	t.Helper()
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "100", Host: "192.0.2.10", Port: 5060})
	via := &sip.ViaHeader{Transport: "UDP", Host: "192.0.2.1", Port: 5060, Params: map[string]string{"branch": sip.GenerateBranch()}}
	from := &sip.FromHeader{Address: sip.Address{URI: sip.Uri{User: "200", Host: "192.0.2.1"}, Params: map[string]string{"tag": "caller-tag"}}}
	to := &sip.ToHeader{Address: sip.Address{URI: sip.Uri{User: "100", Host: "192.0.2.10"}}}
	callID := sip.CallIDHeader("inbound-call-1")
	cseq := sip.CSeqHeader{SeqNo: 1, Method: sip.INVITE}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.SetBody([]byte(offerSDP))

	tx, err := transaction.NewServerTx(req, func(r *sip.Response) error { return ft.Send([]byte(r.String())) })
	require.NoError(t, err)
	agent.handleInboundRequest(req, tx)
}

func TestInboundInviteRingsThenAnswers(t *testing.T) {
	agent, ft := newTestUA()
	el := collectEvents(agent)
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()

	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)

	msgs := ft.sentMessages()
	require.GreaterOrEqual(t, len(msgs), 2)
	trying := msgs[0]
	require.Contains(t, trying, "100 Trying")
	require.Contains(t, msgs[1], "180 Ringing")

	e, ok := el.lastCallState()
	require.True(t, ok)
	require.Equal(t, CallRingingIn, e.CallState)

	require.NoError(t, agent.Answer())
	msgs = ft.sentMessages()
	last := msgs[len(msgs)-1]
	require.Contains(t, last, "200 OK")
	require.Contains(t, last, "m=audio")

	e, ok = el.lastCallState()
	require.True(t, ok)
	require.Equal(t, CallActive, e.CallState)
}

func TestSecondInboundInviteWhileActiveGets486(t *testing.T) {
	agent, ft := newTestUA()
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()
	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)
	require.NoError(t, agent.Answer())

	deliverInboundInvite(t, agent, ft, offer)
	last := ft.lastSent()
	require.Contains(t, last, "486 Busy Here")
}

func TestInboundByeTerminatesCall(t *testing.T) {
	agent, ft := newTestUA()
	el := collectEvents(agent)
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()
	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)
	require.NoError(t, agent.Answer())

	bye := sip.NewRequest(sip.BYE, sip.Uri{User: "100", Host: "192.0.2.10"})
	via := &sip.ViaHeader{Transport: "UDP", Host: "192.0.2.1", Port: 5060, Params: map[string]string{"branch": sip.GenerateBranch()}}
	callID := sip.CallIDHeader("inbound-call-1")
	cseq := sip.CSeqHeader{SeqNo: 2, Method: sip.BYE}
	bye.AppendHeader(via)
	bye.AppendHeader(&callID)
	bye.AppendHeader(&cseq)
	tx, err := transaction.NewServerTx(bye, func(r *sip.Response) error { return ft.Send([]byte(r.String())) })
	require.NoError(t, err)
	agent.handleInboundRequest(bye, tx)

	require.Contains(t, ft.lastSent(), "200 OK")
	e, ok := el.lastCallState()
	require.True(t, ok)
	require.Equal(t, CallIdle, e.CallState)
}

func TestInboundCancelWhileRinging(t *testing.T) {
	agent, ft := newTestUA()
	el := collectEvents(agent)
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()
	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)

	cancel := sip.NewRequest(sip.CANCEL, sip.Uri{User: "100", Host: "192.0.2.10"})
	via := &sip.ViaHeader{Transport: "UDP", Host: "192.0.2.1", Port: 5060, Params: map[string]string{"branch": sip.GenerateBranch()}}
	callID := sip.CallIDHeader("inbound-call-1")
	cseq := sip.CSeqHeader{SeqNo: 1, Method: sip.CANCEL}
	cancel.AppendHeader(via)
	cancel.AppendHeader(&callID)
	cancel.AppendHeader(&cseq)
	tx, err := transaction.NewServerTx(cancel, func(r *sip.Response) error { return ft.Send([]byte(r.String())) })
	require.NoError(t, err)
	agent.handleInboundRequest(cancel, tx)

	// 200 to the CANCEL first, then 487 to the INVITE.
	msgs := ft.sentMessages()
	require.GreaterOrEqual(t, len(msgs), 2)
	cancelOK := msgs[len(msgs)-2]
	require.Contains(t, cancelOK, "200 OK")
	require.Contains(t, msgs[len(msgs)-1], "487 Request Terminated")

	e, ok := el.lastCallState()
	require.True(t, ok)
	require.Equal(t, CallIdle, e.CallState)
}

// --- Mid-call operations ---

func TestSendDTMFRequiresActiveCall(t *testing.T) {
	agent, _ := newTestUA()
	require.Error(t, agent.SendDTMF("5"))
}

func TestSendDTMFBuildsInfoBody(t *testing.T) {
	agent, ft := newTestUA()
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()
	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)
	require.NoError(t, agent.Answer())

	require.NoError(t, agent.SendDTMF("5"))
	require.Eventually(t, func() bool { return ft.sentCount() >= 1 }, time.Second, 5*time.Millisecond)
	info := parseSentRequest(t, ft.lastSent())
	require.Equal(t, sip.INFO, info.Method)
	require.Contains(t, string(info.Body()), "Signal=5")
	require.Contains(t, string(info.Body()), "Duration=160")
}

func TestToggleMuteFlipsState(t *testing.T) {
	agent, ft := newTestUA()
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()
	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)
	require.NoError(t, agent.Answer())

	muted, err := agent.ToggleMute()
	require.NoError(t, err)
	require.True(t, muted)

	muted, err = agent.ToggleMute()
	require.NoError(t, err)
	require.False(t, muted)
}

func TestFeedMicAudioAcceptsPCMDuringActiveCall(t *testing.T) {
	agent, ft := newTestUA()
	peerIP, peerPort, closePeer := localAudioPeer(t)
	defer closePeer()
	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: peerIP, RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)
	require.NoError(t, agent.Answer())

	// two little-endian int16 samples: 0x0001 and 0xFFFF (-1)
	pcmBytes := []byte{0x01, 0x00, 0xFF, 0xFF}
	require.NoError(t, agent.FeedMicAudio(pcmBytes))
}

func TestFeedMicAudioRequiresActiveCall(t *testing.T) {
	agent, _ := newTestUA()
	require.Error(t, agent.FeedMicAudio([]byte{0, 0}))
}

// TestCallStatsReflectSentAndReceivedPackets covers the call-statistics
// wiring end to end: once real RTP packets flow over the call's engine,
// the counters surfaced on the terminating CallState event must reflect
// them, not sit at their zero values.
func TestCallStatsReflectSentAndReceivedPackets(t *testing.T) {
	agent, ft := newTestUA()
	el := collectEvents(agent)

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer peerConn.Close()
	peerPort := peerConn.LocalAddr().(*net.UDPAddr).Port

	offer := media.BuildOffer(media.OfferParams{User: "200", SID: 1, LocalIP: "127.0.0.1", RTPPort: peerPort})
	deliverInboundInvite(t, agent, ft, offer)
	require.NoError(t, agent.Answer())

	var okMsg string
	for _, m := range ft.sentMessages() {
		if strings.Contains(m, "200 OK") {
			okMsg = m
		}
	}
	require.NotEmpty(t, okMsg)
	body := okMsg[strings.Index(okMsg, "\r\n\r\n")+4:]
	sess, err := media.ParseSession(body)
	require.NoError(t, err)
	mb, ok := sess.FirstAudio()
	require.True(t, ok)

	dst := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: mb.Port}
	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = 0xFF
	}
	for seq := uint16(0); seq < 3; seq++ {
		h := make([]byte, 12)
		h[0] = 0x80
		binary.BigEndian.PutUint16(h[2:4], seq)
		binary.BigEndian.PutUint32(h[4:8], uint32(seq)*160)
		binary.BigEndian.PutUint32(h[8:12], 0xfeedface)
		_, err := peerConn.WriteToUDP(append(h, silence...), dst)
		require.NoError(t, err)
	}

	require.NoError(t, peerConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	_, _, err = peerConn.ReadFromUDP(buf)
	require.NoError(t, err)

	require.NoError(t, agent.Hangup())
	require.Eventually(t, func() bool {
		e, ok := el.lastCallState()
		return ok && e.CallState == CallIdle
	}, time.Second, 5*time.Millisecond)

	e, _ := el.lastCallState()
	require.GreaterOrEqual(t, e.Stats.PacketsReceived, uint64(1))
	require.GreaterOrEqual(t, e.Stats.PacketsSent, uint64(1))
}
