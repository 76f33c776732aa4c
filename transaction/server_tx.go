package transaction

import (
	"fmt"
	"sync"

	"github.com/gosoftphone/core/sip"
)

// ServerTx tracks one inbound request for the purpose of: (1) building
// responses that echo the request's Via/From/To/Call-ID/CSeq verbatim, per
// spec.md §4.7's inbound-INVITE and keepalive handling, and (2) detecting
// retransmissions of the same request so the UA core doesn't re-run side
// effects (e.g. re-sending 180 Ringing) for a duplicate.
type ServerTx struct {
	key     string
	request *sip.Request
	send    func(*sip.Response) error

	mu   sync.Mutex
	done bool
}

// NewServerTx wraps an inbound request. send delivers a built response back
// through the transport the request arrived on.
func NewServerTx(req *sip.Request, send func(*sip.Response) error) (*ServerTx, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, err
	}
	return &ServerTx{key: key, request: req, send: send}, nil
}

// Key identifies this transaction for layer dedup lookups.
func (tx *ServerTx) Key() string { return tx.key }

// Request returns the original inbound request.
func (tx *ServerTx) Request() *sip.Request { return tx.request }

// Respond builds a response echoing this request's dialog headers and
// sends it.
func (tx *ServerTx) Respond(status sip.StatusCode, reason string, body []byte) error {
	res := sip.NewResponseFromRequest(tx.request, status, reason, body)
	if err := tx.send(res); err != nil {
		return fmt.Errorf("transaction: respond: %w", err)
	}
	return nil
}

// Terminate marks the transaction complete; after that the layer no longer
// drops a request with the same key as a retransmission but opens a fresh
// transaction for it.
func (tx *ServerTx) Terminate() {
	tx.mu.Lock()
	tx.done = true
	tx.mu.Unlock()
}

func (tx *ServerTx) isDone() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}
