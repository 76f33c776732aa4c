package transaction

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosoftphone/core/sip"
)

// Layer owns every in-flight client and server transaction for one UA and
// dispatches inbound messages to them, handing anything unmatched to the
// core's RequestHandler/ResponseHandler (spontaneous OPTIONS/NOTIFY, or a
// response that arrived after its transaction gave up).
type Layer struct {
	log zerolog.Logger

	sendRequest  func(*sip.Request) error
	sendResponse func(*sip.Response) error

	mu         sync.Mutex
	clientTxs  map[string]*ClientTx
	serverTxs  map[string]*ServerTx

	OnRequest  func(req *sip.Request, tx *ServerTx)
	OnResponse func(res *sip.Response)
}

// NewLayer builds a transaction layer writing through sendRequest/sendResponse,
// which the caller wires to its transport.Send.
func NewLayer(sendRequest func(*sip.Request) error, sendResponse func(*sip.Response) error) *Layer {
	return &Layer{
		log:          log.Logger.With().Str("caller", "transaction.Layer").Logger(),
		sendRequest:  sendRequest,
		sendResponse: sendResponse,
		clientTxs:    make(map[string]*ClientTx),
		serverTxs:    make(map[string]*ServerTx),
	}
}

// Request starts a client transaction for req and returns it.
func (l *Layer) Request(req *sip.Request, retries bool) (*ClientTx, error) {
	tx, err := NewClientTx(req, l.sendRequest, retries, l.log)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.clientTxs[tx.Key()] = tx
	l.mu.Unlock()

	go func() {
		<-tx.Done()
		l.mu.Lock()
		delete(l.clientTxs, tx.Key())
		l.mu.Unlock()
	}()
	return tx, nil
}

// HandleMessage routes one parsed inbound message (request or response) to
// the matching transaction, or to OnRequest/OnResponse if none matches.
func (l *Layer) HandleMessage(msg sip.Message) {
	switch m := msg.(type) {
	case *sip.Request:
		l.handleRequest(m)
	case *sip.Response:
		l.handleResponse(m)
	default:
		l.log.Warn().Msg("transaction: unknown message kind")
	}
}

func (l *Layer) handleRequest(req *sip.Request) {
	key, err := RequestKey(req)
	if err != nil {
		l.log.Warn().Err(err).Msg("transaction: request missing routing headers")
		return
	}

	l.mu.Lock()
	existing, dup := l.serverTxs[key]
	l.mu.Unlock()
	if dup && !existing.isDone() {
		l.log.Debug().Str("tx", key).Msg("dropping retransmitted request")
		return
	}

	tx, err := NewServerTx(req, l.sendResponse)
	if err != nil {
		l.log.Warn().Err(err).Msg("transaction: cannot open server transaction")
		return
	}
	l.mu.Lock()
	l.serverTxs[key] = tx
	l.mu.Unlock()

	if l.OnRequest != nil {
		l.OnRequest(req, tx)
	}
}

func (l *Layer) handleResponse(res *sip.Response) {
	key, err := ResponseKey(res)
	if err != nil {
		l.log.Warn().Err(err).Msg("transaction: response missing routing headers")
		return
	}

	l.mu.Lock()
	tx, ok := l.clientTxs[key]
	l.mu.Unlock()
	if !ok {
		if l.OnResponse != nil {
			l.OnResponse(res)
		}
		return
	}
	tx.Receive(res)
}

// Close terminates every open transaction. Idempotent per transaction.
func (l *Layer) Close() error {
	l.mu.Lock()
	clients := make([]*ClientTx, 0, len(l.clientTxs))
	for _, tx := range l.clientTxs {
		clients = append(clients, tx)
	}
	l.mu.Unlock()

	for _, tx := range clients {
		tx.Terminate()
	}
	return nil
}
