package ua

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosoftphone/core/media"
	"github.com/gosoftphone/core/sip"
	"github.com/gosoftphone/core/transaction"
)

// callState is the dialog state machine of spec.md §3's Call: Idle ->
// Calling -> Ringing -> Active -> Terminating -> Idle for outbound, Idle ->
// RingingIn -> Active -> Terminating -> Idle for inbound.
type callState int

const (
	callIdle callState = iota
	callCalling
	callRinging
	callRingingIn
	callActive
	callTerminating
)

type callDirection int

const (
	dirOutbound callDirection = iota
	dirInbound
)

// call is the one dialog a UserAgent may hold at a time. Every field is
// only ever touched while ua.mu is held, per spec.md §5's single-actor
// model — call itself carries no lock.
type call struct {
	ua *UserAgent

	callID      sip.CallIDHeader
	localTag    string
	remoteTag   string
	localURI    sip.Uri
	remoteURI   sip.Uri
	direction   callDirection
	cseq        uint32
	localSDP    string
	remoteSDP   string
	rtp         *media.Engine
	state       callState
	startedAt   time.Time

	// outbound-only: the branch of the in-flight INVITE, needed to ACK a
	// non-2xx final response on the same transaction.
	inviteBranch  string
	authAttempted bool

	// inbound-only: headers preserved verbatim from the initial INVITE so
	// every response in the transaction echoes them exactly.
	preservedVia  *sip.ViaHeader
	preservedFrom *sip.FromHeader
	preservedTo   *sip.ToHeader
	preservedCSeq *sip.CSeqHeader

	mu        sync.Mutex // guards mutedFlag only; everything else runs under ua.mu
	mutedFlag bool
}

func (c *call) muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutedFlag
}

func (c *call) setState(s callState, info string) {
	c.state = s
	if c.ua.metrics != nil {
		if s == callActive {
			c.ua.metrics.ActiveCalls.Set(1)
		} else if s == callIdle {
			c.ua.metrics.ActiveCalls.Set(0)
		}
	}
	c.ua.emit(callStateEvent(stateKind(s), info, c.stats()))
}

func stateKind(s callState) CallStateKind {
	switch s {
	case callCalling:
		return CallCalling
	case callRinging:
		return CallRinging
	case callRingingIn:
		return CallRingingIn
	case callActive:
		return CallActive
	default:
		return CallIdle
	}
}

func (c *call) stats() CallStats {
	var st CallStats
	if !c.startedAt.IsZero() {
		st.DurationSeconds = time.Since(c.startedAt).Seconds()
	}
	if c.rtp != nil {
		rs := c.rtp.Stats()
		st.PacketsSent = rs.PacketsSent
		st.PacketsReceived = rs.PacketsReceived
		st.PacketsLost = rs.PacketsLost
	}
	return st
}

// localAOR builds this UA's own URI for From/Contact purposes.
func (ua *UserAgent) localAOR() sip.Uri {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	return sip.Uri{User: ua.cfg.Extension, Host: ua.cfg.Server}
}

// targetURI resolves an invite() target per spec.md §6: either a full
// user@host, or a bare dial string appended with "@server".
func (ua *UserAgent) targetURI(target string) sip.Uri {
	ua.mu.Lock()
	server := ua.cfg.Server
	ua.mu.Unlock()
	if strings.Contains(target, "@") {
		if u, err := sip.ParseUri("sip:" + target); err == nil {
			return u
		}
		parts := strings.SplitN(target, "@", 2)
		return sip.Uri{User: parts[0], Host: parts[1]}
	}
	return sip.Uri{User: target, Host: server}
}

// Invite begins an outbound call, per spec.md §4.7's Outbound INVITE steps
// 1-3. The remaining steps run asynchronously as responses arrive.
func (ua *UserAgent) Invite(target string) error {
	ua.mu.Lock()
	if ua.call != nil {
		ua.mu.Unlock()
		return newError(ProtocolError, "invite", fmt.Errorf("ua: a call is already in progress"))
	}
	cfg := ua.cfg
	ua.mu.Unlock()

	if cfg.Server == "" {
		return newError(ProtocolError, "invite", fmt.Errorf("ua: configure() must be called first"))
	}

	c := &call{
		ua:        ua,
		callID:    sip.CallIDHeader(sip.GenerateCallID()),
		localTag:  sip.GenerateTag(),
		localURI:  ua.localAOR(),
		remoteURI: ua.targetURI(target),
		direction: dirOutbound,
		cseq:      1,
		rtp:       media.NewEngine(),
	}

	rtpPort, err := c.rtp.Bind()
	if err != nil {
		return newError(MediaError, "invite", err)
	}
	c.localSDP = media.BuildOffer(media.OfferParams{
		User:    cfg.Extension,
		SID:     time.Now().Unix(),
		LocalIP: ua.localIPSnapshot(),
		RTPPort: rtpPort,
	})
	c.wireRTPEvents()

	ua.mu.Lock()
	ua.call = c
	ua.mu.Unlock()

	c.setState(callCalling, "Calling")
	if err := c.sendInvite(nil); err != nil {
		ua.clearCall(c)
		return newError(TransportError, "invite", err)
	}
	return nil
}

func (ua *UserAgent) localIPSnapshot() string {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	return ua.localIP
}

func (c *call) wireRTPEvents() {
	ua := c.ua
	c.rtp.OnAudio = func(pcm []int16) {
		if ua.metrics != nil {
			ua.metrics.RTPPacketsRecv.Inc()
		}
		ua.emit(audioEvent(pcm))
	}
	c.rtp.OnError = func(err error) {
		ua.logf(LogWarn, "rtp: %v", err)
	}
	c.rtp.OnLoss = func(n uint64) {
		if ua.metrics != nil {
			ua.metrics.RTPPacketsLost.Add(float64(n))
		}
	}
	c.rtp.OnSent = func() {
		if ua.metrics != nil {
			ua.metrics.RTPPacketsSent.Inc()
		}
	}
}

// sendInvite (re)builds and sends the INVITE, attaching auth if provided.
// It is used for both the initial attempt and the challenged rebuild
// (spec.md §4.7 Outbound INVITE step 5).
func (c *call) sendInvite(auth sip.Header) error {
	ua := c.ua
	branch := sip.GenerateBranch()
	c.inviteBranch = branch

	req := sip.NewRequest(sip.INVITE, c.remoteURI)
	from := &sip.FromHeader{Address: sip.Address{URI: c.localURI, Params: map[string]string{"tag": c.localTag}}}
	to := &sip.ToHeader{Address: sip.Address{URI: c.remoteURI}}
	via := &sip.ViaHeader{
		Transport: string(ua.cfg.transportNetwork()),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": branch},
	}
	callID := c.callID
	cseq := sip.CSeqHeader{SeqNo: c.cseq, Method: sip.INVITE}
	maxFwd := sip.MaxForwardsHeader(70)
	contact := &sip.ContactHeader{Address: sip.Address{URI: ua.contactURI(ua.cfg.Extension)}}
	contentType := sip.ContentTypeHeader("application/sdp")

	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(contact)
	req.AppendHeader(&contentType)
	if auth != nil {
		req.AppendHeader(auth)
	}
	req.SetBody([]byte(c.localSDP))

	tx, err := ua.sendRequest(req, false)
	if err != nil {
		return err
	}
	go c.awaitInvite(tx)
	return nil
}

func (c *call) awaitInvite(tx *transaction.ClientTx) {
	for res := range tx.Responses() {
		c.ua.mu.Lock()
		stillCurrent := c.ua.call == c
		c.ua.mu.Unlock()
		if !stillCurrent {
			return
		}
		c.handleInviteResponse(res)
	}
}

func (c *call) handleInviteResponse(res *sip.Response) {
	ua := c.ua
	if to, ok := res.To(); ok && to.Tag() != "" {
		c.remoteTag = to.Tag()
	}

	switch {
	case res.IsProvisional():
		if res.StatusCode == sip.StatusRinging || res.StatusCode == sip.StatusSessionProgress {
			ua.mu.Lock()
			same := ua.call == c
			ua.mu.Unlock()
			if same && c.state == callCalling {
				c.setState(callRinging, "Ringing")
			}
		}
	case res.IsSuccess():
		c.onInviteSuccess(res)
	case res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired:
		c.onInviteChallenge(res)
	default:
		c.sendNonOKAck(res)
		reason := fmt.Sprintf("%d %s", res.StatusCode, shortReason(res))
		c.terminate(reason)
	}
}

func shortReason(res *sip.Response) string {
	parts := strings.SplitN(res.StartLine(), " ", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return ""
}

func (c *call) onInviteChallenge(res *sip.Response) {
	if c.authAttempted {
		c.sendNonOKAck(res)
		c.terminate("401 Unauthorized")
		return
	}
	c.authAttempted = true
	c.sendNonOKAck(res)

	ua := c.ua
	auth, err := buildAuthorization(res, sip.INVITE, c.remoteURI.String(), ua.cfg.Extension, ua.cfg.Password)
	if err != nil {
		ua.logf(LogError, "%s", newError(AuthError, "invite", err))
		c.terminate("Authentication failed")
		return
	}
	c.cseq++
	if err := c.sendInvite(auth); err != nil {
		ua.logf(LogError, "%s", newError(TransportError, "invite", err))
		c.terminate("Authentication failed")
	}
}

// sendNonOKAck acks a non-2xx final response on the INVITE's own branch and
// CSeq, per spec.md §4.7 step 5 — this ACK is transaction-scoped.
func (c *call) sendNonOKAck(res *sip.Response) {
	ua := c.ua
	ack := sip.NewRequest(sip.ACK, c.remoteURI)
	from := &sip.FromHeader{Address: sip.Address{URI: c.localURI, Params: map[string]string{"tag": c.localTag}}}
	toParams := map[string]string{}
	if c.remoteTag != "" {
		toParams["tag"] = c.remoteTag
	}
	to := &sip.ToHeader{Address: sip.Address{URI: c.remoteURI, Params: toParams}}
	via := &sip.ViaHeader{
		Transport: string(ua.cfg.transportNetwork()),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": c.inviteBranch},
	}
	callID := c.callID
	cseq := sip.CSeqHeader{SeqNo: c.cseq, Method: sip.ACK}
	maxFwd := sip.MaxForwardsHeader(70)

	ack.AppendHeader(via)
	ack.AppendHeader(from)
	ack.AppendHeader(to)
	ack.AppendHeader(&callID)
	ack.AppendHeader(&cseq)
	ack.AppendHeader(&maxFwd)
	ack.SetBody(nil)

	if err := ua.tr.Send([]byte(ack.String())); err != nil {
		ua.logf(LogWarn, "ack: %v", err)
	}
}

// onInviteSuccess implements spec.md §4.7 step 6: a new-branch, end-to-end
// ACK reusing the INVITE's CSeq number, then media start.
func (c *call) onInviteSuccess(res *sip.Response) {
	ua := c.ua
	c.remoteSDP = string(res.Body())

	ack := sip.NewRequest(sip.ACK, c.remoteURI)
	from := &sip.FromHeader{Address: sip.Address{URI: c.localURI, Params: map[string]string{"tag": c.localTag}}}
	toParams := map[string]string{}
	if c.remoteTag != "" {
		toParams["tag"] = c.remoteTag
	}
	to := &sip.ToHeader{Address: sip.Address{URI: c.remoteURI, Params: toParams}}
	via := &sip.ViaHeader{
		Transport: string(ua.cfg.transportNetwork()),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": sip.GenerateBranch()},
	}
	callID := c.callID
	cseq := sip.CSeqHeader{SeqNo: c.cseq, Method: sip.ACK}
	maxFwd := sip.MaxForwardsHeader(70)

	ack.AppendHeader(via)
	ack.AppendHeader(from)
	ack.AppendHeader(to)
	ack.AppendHeader(&callID)
	ack.AppendHeader(&cseq)
	ack.AppendHeader(&maxFwd)
	ack.SetBody(nil)
	if err := ua.tr.Send([]byte(ack.String())); err != nil {
		ua.logf(LogWarn, "ack: %v", err)
	}

	c.startMediaFromOffer(c.remoteSDP)
	c.startedAt = timeNow()
	c.setState(callActive, "Active")
}

func (c *call) startMediaFromOffer(sdpBody string) {
	sess, err := media.ParseSession(sdpBody)
	if err != nil {
		c.ua.logf(LogError, "%s", newError(ParseError, "sdp", err))
		return
	}
	block, ok := sess.FirstAudio()
	if !ok {
		c.ua.logf(LogError, "%s", newError(ParseError, "sdp", fmt.Errorf("no audio m-line in answer")))
		return
	}
	pt := media.PTPCMU
	if len(block.PayloadTypes) > 0 {
		pt = block.PayloadTypes[0]
	}
	ip := block.EffectiveIP(sess.ConnIP)
	if err := c.rtp.Start(ip, block.Port, pt); err != nil {
		c.ua.logf(LogError, "%s", newError(MediaError, "rtp", err))
	}
}

// --- Inbound INVITE ---

// handleInboundRequest dispatches one routed inbound request to the call
// layer or the keepalive handlers (spec.md §4.7's inbound and spontaneous
// request handling). It is installed as transaction.Layer.OnRequest.
func (ua *UserAgent) handleInboundRequest(req *sip.Request, tx *transaction.ServerTx) {
	ua.mu.Lock()
	c := ua.call
	ua.mu.Unlock()

	switch req.Method {
	case sip.INVITE:
		ua.handleInboundInvite(req, tx, c)
	case sip.ACK:
		// ACK never gets a response; nothing to do beyond transaction match.
	case sip.BYE:
		if c != nil {
			c.handleBye(tx)
		} else {
			tx.Respond(sip.StatusCode(481), "Call/Transaction Does Not Exist", nil)
		}
	case sip.CANCEL:
		if c != nil {
			c.handleCancel(tx)
		} else {
			tx.Respond(sip.StatusCode(481), "Call/Transaction Does Not Exist", nil)
		}
	case sip.OPTIONS:
		ua.respondKeepalive(req, tx, true)
	case sip.NOTIFY:
		ua.respondKeepalive(req, tx, false)
	case sip.INFO:
		tx.Respond(sip.StatusOK, "OK", nil)
	default:
		tx.Respond(sip.StatusCode(501), "Not Implemented", nil)
	}
}

func (ua *UserAgent) respondKeepalive(req *sip.Request, tx *transaction.ServerTx, freshToTag bool) {
	if freshToTag {
		if to, ok := req.To(); ok && to.Tag() == "" {
			tagged := *to
			if tagged.Params == nil {
				tagged.Params = map[string]string{}
			} else {
				cloned := make(map[string]string, len(tagged.Params))
				for k, v := range tagged.Params {
					cloned[k] = v
				}
				tagged.Params = cloned
			}
			tagged.Params["tag"] = sip.GenerateTag()
			req.ReplaceHeader(&tagged)
		}
	}
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", sip.AllowHeaderValue()))
	if err := ua.tr.Send([]byte(res.String())); err != nil {
		ua.logf(LogWarn, "keepalive response: %v", err)
	}
}

func (ua *UserAgent) handleInboundInvite(req *sip.Request, tx *transaction.ServerTx, existing *call) {
	if existing != nil {
		// A second INVITE while a call already exists, inbound or
		// outbound, is answered 486 without disturbing current state.
		tx.Respond(sip.StatusBusyHere, "Busy Here", nil)
		return
	}

	via, _ := req.Via()
	from, _ := req.From()
	to, _ := req.To()
	cseq, _ := req.CSeq()
	callID, _ := req.CallID()

	localTag := sip.GenerateTag()
	toTagged := *to
	toTagged.Params = mergeTag(to.Params, localTag)

	c := &call{
		ua:               ua,
		callID:           *callID,
		localTag:         localTag,
		localURI:         toTagged.URI,
		remoteURI:        from.URI,
		remoteTag:        from.Tag(),
		direction:        dirInbound,
		cseq:             cseq.SeqNo,
		remoteSDP:        string(req.Body()),
		rtp:              media.NewEngine(),
		preservedVia:  via,
		preservedFrom: from,
		preservedTo:   &toTagged,
		preservedCSeq: cseq,
	}
	c.wireRTPEvents()

	ua.mu.Lock()
	ua.call = c
	ua.mu.Unlock()

	tx.Respond(sip.StatusTrying, "Trying", nil)
	c.sendInboundResponse(sip.StatusRinging, "Ringing", nil)
	c.setState(callRingingIn, "Incoming call")
}

func mergeTag(src map[string]string, tag string) map[string]string {
	out := make(map[string]string, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["tag"] = tag
	return out
}

// sendInboundResponse builds and sends a response within the inbound
// INVITE's transaction, echoing the preserved dialog headers verbatim.
func (c *call) sendInboundResponse(status sip.StatusCode, reason string, body []byte) {
	ua := c.ua
	res := sip.NewResponse(status, reason)
	res.AppendHeader(c.preservedVia)
	res.AppendHeader(c.preservedFrom)
	res.AppendHeader(c.preservedTo)
	callID := c.callID
	res.AppendHeader(&callID)
	res.AppendHeader(c.preservedCSeq)
	if body != nil {
		ct := sip.ContentTypeHeader("application/sdp")
		res.AppendHeader(&ct)
	}
	res.SetBody(body)
	if err := ua.tr.Send([]byte(res.String())); err != nil {
		ua.logf(LogWarn, "response: %v", err)
	}
}

// Answer accepts a ringing inbound call, per spec.md §4.7's Inbound
// INVITE answer() step.
func (ua *UserAgent) Answer() error {
	ua.mu.Lock()
	c := ua.call
	ua.mu.Unlock()
	if c == nil || c.direction != dirInbound || c.state != callRingingIn {
		return newError(ProtocolError, "answer", fmt.Errorf("ua: no ringing inbound call"))
	}

	rtpPort, err := c.rtp.Bind()
	if err != nil {
		return newError(MediaError, "answer", err)
	}
	answerBody, pt, err := media.BuildAnswer(media.OfferParams{
		User:    ua.cfg.Extension,
		SID:     time.Now().Unix(),
		LocalIP: ua.localIPSnapshot(),
		RTPPort: rtpPort,
	}, mustParseSession(c.remoteSDP))
	if err != nil {
		return newError(ParseError, "answer", err)
	}
	c.localSDP = answerBody

	sess, _ := media.ParseSession(c.remoteSDP)
	if block, ok := sess.FirstAudio(); ok {
		ip := block.EffectiveIP(sess.ConnIP)
		if err := c.rtp.Start(ip, block.Port, pt); err != nil {
			return newError(MediaError, "answer", err)
		}
	}

	c.sendInboundResponse(sip.StatusOK, "OK", []byte(answerBody))
	c.startedAt = timeNow()
	c.setState(callActive, "Active")
	return nil
}

func mustParseSession(body string) *media.Session {
	sess, err := media.ParseSession(body)
	if err != nil {
		return &media.Session{}
	}
	return sess
}

func (c *call) handleCancel(tx *transaction.ServerTx) {
	tx.Respond(sip.StatusOK, "OK", nil)
	if c.direction == dirInbound && c.state == callRingingIn {
		c.sendInboundResponse(sip.StatusRequestTerminated, "Request Terminated", nil)
		c.terminate("Cancelled")
	}
}

func (c *call) handleBye(tx *transaction.ServerTx) {
	tx.Respond(sip.StatusOK, "OK", nil)
	c.terminate("Remote hangup")
}

// Hangup implements spec.md §4.7's hangup(), branching on dialog state.
func (ua *UserAgent) Hangup() error {
	ua.mu.Lock()
	c := ua.call
	ua.mu.Unlock()
	if c == nil {
		return newError(ProtocolError, "hangup", fmt.Errorf("ua: no call in progress"))
	}

	switch c.state {
	case callCalling, callRinging:
		c.sendCancel()
		c.terminate("Cancelled")
	case callRingingIn:
		c.sendInboundResponse(sip.StatusBusyHere, "Busy Here", nil)
		c.terminate("Cancelled")
	case callActive:
		c.sendBye()
		c.terminate("Hangup")
	default:
		c.terminate("Hangup")
	}
	return nil
}

func (c *call) sendCancel() {
	ua := c.ua
	req := sip.NewRequest(sip.CANCEL, c.remoteURI)
	from := &sip.FromHeader{Address: sip.Address{URI: c.localURI, Params: map[string]string{"tag": c.localTag}}}
	to := &sip.ToHeader{Address: sip.Address{URI: c.remoteURI}}
	via := &sip.ViaHeader{
		Transport: string(ua.cfg.transportNetwork()),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": c.inviteBranch},
	}
	callID := c.callID
	cseq := sip.CSeqHeader{SeqNo: c.cseq, Method: sip.CANCEL}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.SetBody(nil)

	if _, err := ua.sendRequest(req, false); err != nil {
		ua.logf(LogWarn, "cancel: %v", err)
	}
}

func (c *call) sendBye() {
	ua := c.ua
	c.cseq++
	req := sip.NewRequest(sip.BYE, c.remoteURI)
	from := &sip.FromHeader{Address: sip.Address{URI: c.localURI, Params: map[string]string{"tag": c.localTag}}}
	toParams := map[string]string{}
	if c.remoteTag != "" {
		toParams["tag"] = c.remoteTag
	}
	to := &sip.ToHeader{Address: sip.Address{URI: c.remoteURI, Params: toParams}}
	via := &sip.ViaHeader{
		Transport: string(ua.cfg.transportNetwork()),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": sip.GenerateBranch()},
	}
	callID := c.callID
	cseq := sip.CSeqHeader{SeqNo: c.cseq, Method: sip.BYE}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.SetBody(nil)

	if _, err := ua.sendRequest(req, false); err != nil {
		ua.logf(LogWarn, "bye: %v", err)
	}
}

// SendDTMF implements spec.md §4.7's sendDTMF(), available only in Active.
func (ua *UserAgent) SendDTMF(digit string) error {
	ua.mu.Lock()
	c := ua.call
	ua.mu.Unlock()
	if c == nil || c.state != callActive {
		return newError(ProtocolError, "senddtmf", fmt.Errorf("ua: no active call"))
	}

	c.cseq++
	req := sip.NewRequest(sip.INFO, c.remoteURI)
	from := &sip.FromHeader{Address: sip.Address{URI: c.localURI, Params: map[string]string{"tag": c.localTag}}}
	toParams := map[string]string{}
	if c.remoteTag != "" {
		toParams["tag"] = c.remoteTag
	}
	to := &sip.ToHeader{Address: sip.Address{URI: c.remoteURI, Params: toParams}}
	via := &sip.ViaHeader{
		Transport: string(ua.cfg.transportNetwork()),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": sip.GenerateBranch()},
	}
	callID := c.callID
	cseq := sip.CSeqHeader{SeqNo: c.cseq, Method: sip.INFO}
	maxFwd := sip.MaxForwardsHeader(70)
	contentType := sip.ContentTypeHeader("application/dtmf-relay")
	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&contentType)
	req.SetBody([]byte(fmt.Sprintf("Signal=%s\r\nDuration=160\r\n", digit)))

	if _, err := ua.sendRequest(req, false); err != nil {
		return newError(TransportError, "senddtmf", err)
	}
	return nil
}

// ToggleMute flips the active call's RTP mute state and returns the new
// value.
func (ua *UserAgent) ToggleMute() (bool, error) {
	ua.mu.Lock()
	c := ua.call
	ua.mu.Unlock()
	if c == nil {
		return false, newError(ProtocolError, "togglemute", fmt.Errorf("ua: no call in progress"))
	}
	c.mu.Lock()
	newState := !c.mutedFlag
	c.mutedFlag = newState
	c.mu.Unlock()
	c.rtp.SetMuted(newState)
	return newState, nil
}

// FeedMicAudio forwards a microphone PCM frame to the active call's RTP
// engine, per spec.md §6's feedMicAudio inbound API.
func (ua *UserAgent) FeedMicAudio(pcm16LEBytes []byte) error {
	ua.mu.Lock()
	c := ua.call
	ua.mu.Unlock()
	if c == nil || c.state != callActive {
		return newError(ProtocolError, "feedmicaudio", fmt.Errorf("ua: no active call"))
	}
	pcm := make([]int16, len(pcm16LEBytes)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(pcm16LEBytes[i*2:]))
	}
	c.rtp.FeedMic(pcm)
	return nil
}

// terminate tears the call down, closing its RTP engine and returning the
// UA to Idle. Safe to call more than once.
func (c *call) terminate(reason string) {
	ua := c.ua
	ua.mu.Lock()
	if ua.call != c {
		ua.mu.Unlock()
		return
	}
	ua.call = nil
	ua.mu.Unlock()

	c.state = callTerminating
	c.rtp.Close()
	c.setState(callIdle, reason)
}

func (ua *UserAgent) clearCall(c *call) {
	ua.mu.Lock()
	if ua.call == c {
		ua.call = nil
	}
	ua.mu.Unlock()
}

// timeNow supplies the wall-clock instant recorded as a call's startedAt.
// The SDP session ids read time.Now directly.
func timeNow() time.Time { return time.Now() }
