package ua

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosoftphone/core/sip"
	"github.com/gosoftphone/core/transaction"
)

// registrationPhase tracks spec.md §3's Registration State lifecycle:
// CREATED on register(), advancing through CHALLENGED -> AUTHENTICATED ->
// REFRESHING, destroyed on explicit unregister or transport loss.
type registrationPhase int

const (
	regCreated registrationPhase = iota
	regChallenged
	regAuthenticated
	regRefreshing
)

const (
	registerExpires    = 300
	minRefreshInterval = 60 * time.Second
)

// registration drives one REGISTER lifecycle for a UserAgent. call_id and
// local_tag stay constant for the lifetime of the registration; cseq
// strictly increases on every REGISTER sent (initial, challenged retry,
// and refreshes), per spec.md §3's invariant.
type registration struct {
	ua  *UserAgent
	cfg Config

	mu    sync.Mutex
	phase registrationPhase

	callID   sip.CallIDHeader
	localTag string
	cseq     uint32

	refreshTimer *time.Timer
	stopped      bool
}

func newRegistration(ua *UserAgent, cfg Config) *registration {
	return &registration{
		ua:       ua,
		cfg:      cfg,
		callID:   sip.CallIDHeader(sip.GenerateCallID()),
		localTag: sip.GenerateTag(),
	}
}

func (r *registration) nextCSeq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cseq++
	return r.cseq
}

func (r *registration) aor() sip.Uri {
	return sip.Uri{User: r.cfg.Extension, Host: r.cfg.Server}
}

func (r *registration) buildRequest(expires uint32, auth sip.Header) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: r.cfg.Server, Port: int(r.cfg.Port)})

	from := &sip.FromHeader{Address: sip.Address{
		URI:    r.aor(),
		Params: map[string]string{"tag": r.localTag},
	}}
	to := &sip.ToHeader{Address: sip.Address{URI: r.aor()}}
	via := &sip.ViaHeader{
		Transport: string(r.ua.cfg.transportNetwork()),
		Host:      r.ua.localIP,
		Port:      r.ua.localPort,
		Params:    map[string]string{"branch": sip.GenerateBranch()},
	}
	callID := r.callID
	cseq := sip.CSeqHeader{SeqNo: r.nextCSeq(), Method: sip.REGISTER}
	maxFwd := sip.MaxForwardsHeader(70)
	expH := sip.ExpiresHeader(expires)
	contact := &sip.ContactHeader{Address: sip.Address{URI: r.ua.contactURI(r.cfg.Extension)}}

	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(contact)
	req.AppendHeader(&expH)
	if auth != nil {
		req.AppendHeader(auth)
	}
	req.SetBody(nil)
	return req
}

// start sends the initial REGISTER and drives the lifecycle through
// challenge, success/failure, and scheduling refreshes.
func (r *registration) start() {
	r.send(registerExpires, nil)
}

func (r *registration) send(expires uint32, auth sip.Header) {
	if r.isStopped() {
		return
	}
	req := r.buildRequest(expires, auth)
	if r.ua.metrics != nil {
		r.ua.metrics.RegisterAttempts.Inc()
	}

	tx, err := r.ua.sendRequest(req, true)
	if err != nil {
		r.fail(fmt.Errorf("send register: %w", err))
		return
	}
	go r.await(tx, expires)
}

func (r *registration) await(tx *transaction.ClientTx, expires uint32) {
	for res := range tx.Responses() {
		if res.IsProvisional() {
			continue
		}
		r.handleFinal(res, expires)
		return
	}
	// channel closed with no final response: retries exhausted.
	r.timeout()
}

func (r *registration) handleFinal(res *sip.Response, expires uint32) {
	switch {
	case res.IsSuccess():
		r.succeed(expires)
	case res.IsAuthChallenge():
		r.challenge(res, expires)
	default:
		r.fail(fmt.Errorf("register rejected: %s", res.Short()))
	}
}

func (r *registration) challenge(res *sip.Response, expires uint32) {
	r.mu.Lock()
	alreadyChallenged := r.phase == regChallenged
	r.phase = regChallenged
	r.mu.Unlock()

	if alreadyChallenged {
		r.fail(fmt.Errorf("second auth challenge: %w", fmt.Errorf("credentials rejected")))
		return
	}

	uri := sip.Uri{Host: r.cfg.Server, Port: int(r.cfg.Port)}.String()
	auth, err := buildAuthorization(res, sip.REGISTER, uri, r.cfg.Extension, r.cfg.Password)
	if err != nil {
		r.fail(err)
		return
	}
	r.send(expires, auth)
}

func (r *registration) succeed(expires uint32) {
	r.mu.Lock()
	r.phase = regAuthenticated
	r.mu.Unlock()

	r.ua.emit(statusEvent(Connected, "Registered"))

	if expires == 0 {
		return
	}
	interval := time.Duration(expires) * time.Second * 5 / 6
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	r.scheduleRefresh(interval)
}

func (r *registration) scheduleRefresh(interval time.Duration) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.refreshTimer = time.AfterFunc(interval, func() {
		r.mu.Lock()
		r.phase = regRefreshing
		r.mu.Unlock()
		r.send(registerExpires, nil)
	})
	r.mu.Unlock()
}

func (r *registration) timeout() {
	if r.ua.metrics != nil {
		r.ua.metrics.RegisterFailures.Inc()
	}
	e := newError(Timeout, "register", fmt.Errorf("no response after retries"))
	r.ua.logf(LogError, "%s", e)
	r.ua.emit(statusEvent(Disconnected, "no-response"))
}

func (r *registration) fail(err error) {
	if r.ua.metrics != nil {
		r.ua.metrics.RegisterFailures.Inc()
	}
	e := newError(AuthError, "register", err)
	r.ua.logf(LogError, "%s", e)
	r.ua.emit(statusEvent(Disconnected, err.Error()))
}

// unregister sends REGISTER Expires:0 then tears down the transport after
// 2s regardless of response (spec.md §4.7 step 7).
func (r *registration) unregister() {
	r.mu.Lock()
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}
	r.mu.Unlock()
	r.send(0, nil)
	r.cancelTimers()
	time.Sleep(2 * time.Second)
	r.ua.mu.Lock()
	tr := r.ua.tr
	r.ua.tr = nil
	r.ua.mu.Unlock()
	if tr != nil {
		tr.Close()
	}
}

func (r *registration) cancelTimers() {
	r.mu.Lock()
	r.stopped = true
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
	}
	r.mu.Unlock()
}

func (r *registration) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
