// Package ua implements UA Core (spec.md §4.7): the single-actor user
// agent that drives the REGISTER lifecycle, one outbound or inbound call
// at a time, and the keepalive/spontaneous-request handlers, wiring SIP
// signaling to the media engine and publishing everything through a
// typed event surface.
package ua

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosoftphone/core/sip"
	"github.com/gosoftphone/core/transaction"
	"github.com/gosoftphone/core/transport"
)

// UserAgent is the single logical actor described in spec.md §5: every
// mutation of registration/call/transport state is serialized by mu, held
// for the duration of each handler.
type UserAgent struct {
	log     zerolog.Logger
	metrics *Metrics
	sink    Sink

	mu        sync.Mutex
	cfg       Config
	tr        transport.Transport
	txLayer   *transaction.Layer
	localIP   string
	localPort int
	stopped   bool

	reg  *registration
	call *call
}

// New builds an idle UserAgent. Call configure() then register() to begin.
// metrics may be nil, in which case no metrics are recorded.
func New(sink Sink, metrics *Metrics) *UserAgent {
	return &UserAgent{
		log:     log.Logger.With().Str("caller", "ua.UserAgent").Logger(),
		metrics: metrics,
		sink:    sink,
	}
}

func (ua *UserAgent) emit(e Event) {
	if ua.sink != nil {
		ua.sink(e)
	}
}

func (ua *UserAgent) logf(level LogLevel, format string, args ...interface{}) {
	ua.emit(logEvent(level, fmt.Sprintf(format, args...)))
}

// Configure validates and stores the shell-provided config, per spec.md §6's
// configure() inbound API. It does not open a transport; register() does.
func (ua *UserAgent) Configure(cfg Config) error {
	norm, err := cfg.normalize()
	if err != nil {
		e := newError(ProtocolError, "configure", err)
		ua.logf(LogError, "%s", e)
		return e
	}
	ua.mu.Lock()
	ua.cfg = norm
	ua.mu.Unlock()
	return nil
}

// Register begins the REGISTER lifecycle (spec.md §4.7). It resolves
// synchronously up through opening the transport and sending the initial
// REGISTER; everything after that (challenge retry, refresh) runs in the
// background, matching spec.md §7's "call-initiating methods resolve
// successfully after the request is dispatched."
func (ua *UserAgent) Register() error {
	ua.mu.Lock()
	cfg := ua.cfg
	alreadyOpen := ua.tr != nil
	ua.mu.Unlock()

	if cfg.Server == "" {
		return newError(ProtocolError, "register", fmt.Errorf("ua: configure() must be called first"))
	}

	if !alreadyOpen {
		if err := ua.openTransport(cfg); err != nil {
			e := newError(TransportError, "register", err)
			ua.logf(LogError, "%s", e)
			ua.emit(statusEvent(Disconnected, e.Error()))
			return e
		}
	}

	ua.emit(statusEvent(Connecting, "Registering"))
	r := newRegistration(ua, cfg)
	ua.mu.Lock()
	ua.reg = r
	ua.mu.Unlock()

	r.start()
	return nil
}

// Unregister sends REGISTER Expires:0 then tears down the transport after
// 2s regardless of response, per spec.md §4.7 step 7.
func (ua *UserAgent) Unregister() error {
	ua.mu.Lock()
	r := ua.reg
	ua.mu.Unlock()
	if r == nil {
		return newError(ProtocolError, "unregister", fmt.Errorf("ua: not registered"))
	}
	go r.unregister()
	return nil
}

// Stop is the UA's cancellation point: idempotent, cancels all timers,
// closes the transport, terminates any active call with reason "Stopped",
// and emits nothing further after return (spec.md §5).
func (ua *UserAgent) Stop() {
	ua.mu.Lock()
	if ua.stopped {
		ua.mu.Unlock()
		return
	}
	ua.stopped = true
	r := ua.reg
	c := ua.call
	tr := ua.tr
	txLayer := ua.txLayer
	ua.reg = nil
	ua.mu.Unlock()

	if r != nil {
		r.cancelTimers()
	}
	if c != nil {
		c.terminate("Stopped")
	}
	if txLayer != nil {
		txLayer.Close()
	}
	if tr != nil {
		tr.Close()
	}
}

func (ua *UserAgent) openTransport(cfg Config) error {
	network := cfg.transportNetwork()
	tr, err := transport.New(network, cfg.Server, int(cfg.Port))
	if err != nil {
		return err
	}

	localIP, err := localIPTowards(cfg.Server, int(cfg.Port))
	if err != nil {
		tr.Close()
		return err
	}
	_, portStr, err := net.SplitHostPort(tr.LocalAddr())
	localPort := 0
	if err == nil {
		localPort, _ = strconv.Atoi(portStr)
	}

	txLayer := transaction.NewLayer(
		func(r *sip.Request) error { return tr.Send([]byte(r.String())) },
		func(r *sip.Response) error { return tr.Send([]byte(r.String())) },
	)
	txLayer.OnRequest = ua.handleInboundRequest

	tr.OnMessage(func(raw []byte, src string) {
		msg, err := sip.ParseMessage(raw)
		if err != nil {
			ua.logf(LogWarn, "parse error from %s: %v", src, err)
			return
		}
		txLayer.HandleMessage(msg)
	})
	tr.OnError(func(err error) {
		ua.logf(LogError, "transport error: %v", err)
		ua.onTransportLost()
	})

	ua.mu.Lock()
	ua.tr = tr
	ua.txLayer = txLayer
	ua.localIP = localIP
	ua.localPort = localPort
	ua.mu.Unlock()
	return nil
}

func (ua *UserAgent) onTransportLost() {
	ua.mu.Lock()
	c := ua.call
	r := ua.reg
	ua.reg = nil
	ua.mu.Unlock()
	if r != nil {
		r.cancelTimers()
	}
	if c != nil {
		c.terminate("Disconnected")
	}
	ua.emit(statusEvent(Disconnected, "Transport lost"))
}

// localIPTowards determines the local address the OS would use to reach
// server:port, without actually connecting to it (UDP "connect" never
// sends a packet) — grounded on the common net.DialUDP trick.
func localIPTowards(server string, port int) (string, error) {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", server, port))
	if err != nil {
		return "", fmt.Errorf("ua: determine local address: %w", err)
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}

func (ua *UserAgent) contactURI(ext string) sip.Uri {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	return sip.Uri{
		User:      ext,
		Host:      ua.localIP,
		Port:      ua.localPort,
		Transport: string(ua.cfg.Transport),
	}
}

func (ua *UserAgent) sendRequest(req *sip.Request, retries bool) (*transaction.ClientTx, error) {
	ua.mu.Lock()
	txLayer := ua.txLayer
	ua.mu.Unlock()
	if txLayer == nil {
		return nil, fmt.Errorf("ua: transport not open")
	}
	return txLayer.Request(req, retries)
}

// Probe dials target with a standalone OPTIONS request as a reachability
// check, per SPEC_FULL.md's supplemented "OPTIONS dialed by the UA itself"
// feature. It resolves once the request is dispatched; the result arrives
// as a log event.
func (ua *UserAgent) Probe(target string) error {
	ua.mu.Lock()
	cfg := ua.cfg
	ua.mu.Unlock()
	if cfg.Server == "" {
		return newError(ProtocolError, "probe", fmt.Errorf("ua: configure() must be called first"))
	}

	recipient := ua.targetURI(target)
	req := sip.NewRequest(sip.OPTIONS, recipient)
	from := &sip.FromHeader{Address: sip.Address{URI: ua.localAOR(), Params: map[string]string{"tag": sip.GenerateTag()}}}
	to := &sip.ToHeader{Address: sip.Address{URI: recipient}}
	via := &sip.ViaHeader{
		Transport: cfg.transportNetwork(),
		Host:      ua.localIP,
		Port:      ua.localPort,
		Params:    map[string]string{"branch": sip.GenerateBranch()},
	}
	callID := sip.CallIDHeader(sip.GenerateCallID())
	cseq := sip.CSeqHeader{SeqNo: 1, Method: sip.OPTIONS}
	maxFwd := sip.MaxForwardsHeader(70)

	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&cseq)
	req.AppendHeader(&maxFwd)
	req.SetBody(nil)

	tx, err := ua.sendRequest(req, false)
	if err != nil {
		e := newError(TransportError, "probe", err)
		ua.logf(LogError, "%s", e)
		return e
	}
	go func() {
		for res := range tx.Responses() {
			if res.IsProvisional() {
				continue
			}
			ua.logf(LogSIP, "probe %s: %s", target, res.Short())
			return
		}
		ua.logf(LogWarn, "probe %s: no response", target)
	}()
	return nil
}
