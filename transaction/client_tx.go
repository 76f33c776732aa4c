package transaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gosoftphone/core/sip"
)

// RegisterRetryInterval and RegisterMaxRetries bound REGISTER resending
// (spec.md §4.7 step 5): a REGISTER is sent at most RegisterMaxRetries
// times in all, RegisterRetryInterval apart, then the transaction gives up.
var RegisterRetryInterval = 5 * time.Second

const RegisterMaxRetries = 3

// ErrTimeout describes a REGISTER that exhausted its retries with no
// response. ClientTx does not deliver it: exhaustion shows up as Responses
// closing without a final response.
var ErrTimeout = fmt.Errorf("transaction: no response received")

// ClientTx tracks one outgoing request waiting for a matching response. An
// INVITE transaction never retransmits on its own per spec.md §4.7 (the UA
// core resends a fresh INVITE itself on 401/407); a REGISTER transaction
// retransmits on RegisterRetryInterval until it has been sent
// RegisterMaxRetries times in all.
type ClientTx struct {
	log zerolog.Logger

	key     string
	origin  *sip.Request
	send    func(*sip.Request) error
	retries bool

	mu        sync.Mutex
	responses chan *sip.Response
	done      chan struct{}
	closeOnce sync.Once
	timer     *time.Timer
	attempts  int
}

// NewClientTx starts a transaction for origin, sending it immediately.
// retries enables the REGISTER-style retransmit timer.
func NewClientTx(origin *sip.Request, send func(*sip.Request) error, retries bool, logger zerolog.Logger) (*ClientTx, error) {
	key, err := RequestKey(origin)
	if err != nil {
		return nil, err
	}

	tx := &ClientTx{
		log:       logger,
		key:       key,
		origin:    origin,
		send:      send,
		retries:   retries,
		responses: make(chan *sip.Response, 4),
		done:      make(chan struct{}),
	}

	if err := tx.send(tx.origin); err != nil {
		return nil, fmt.Errorf("transaction: initial send: %w", err)
	}
	tx.attempts = 1
	if tx.retries {
		tx.armTimer()
	}
	return tx, nil
}

// Key identifies this transaction for layer dispatch.
func (tx *ClientTx) Key() string { return tx.key }

func (tx *ClientTx) armTimer() {
	tx.timer = time.AfterFunc(RegisterRetryInterval, tx.onTimeout)
}

func (tx *ClientTx) onTimeout() {
	tx.mu.Lock()
	select {
	case <-tx.done:
		tx.mu.Unlock()
		return
	default:
	}

	if tx.attempts >= RegisterMaxRetries {
		tx.mu.Unlock()
		tx.log.Warn().Str("tx", tx.key).Msg("transaction: giving up after retries")
		tx.finish(nil)
		return
	}
	tx.attempts++
	attempt := tx.attempts
	tx.mu.Unlock()

	tx.log.Debug().Str("tx", tx.key).Int("attempt", attempt).Msg("retransmitting request")
	if err := tx.send(tx.origin); err != nil {
		tx.log.Warn().Err(err).Str("tx", tx.key).Msg("retransmit failed")
	}

	tx.mu.Lock()
	tx.armTimer()
	tx.mu.Unlock()
}

// Receive delivers a matched response to this transaction. The layer is
// responsible for routing by Key.
func (tx *ClientTx) Receive(res *sip.Response) {
	tx.mu.Lock()
	select {
	case <-tx.done:
		tx.mu.Unlock()
		return
	default:
	}
	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.mu.Unlock()

	select {
	case tx.responses <- res:
	case <-tx.done:
	}

	// Provisional responses (1xx) don't end the transaction; anything
	// else does, matching spec.md's non-retrying INVITE/REGISTER model.
	if !res.IsProvisional() {
		tx.finish(res)
	}
}

// Responses streams matched responses to the caller, closed once the
// transaction finishes (final response received, or retries exhausted).
func (tx *ClientTx) Responses() <-chan *sip.Response { return tx.responses }

// Done reports transaction completion.
func (tx *ClientTx) Done() <-chan struct{} { return tx.done }

func (tx *ClientTx) finish(_ *sip.Response) {
	tx.closeOnce.Do(func() {
		tx.mu.Lock()
		if tx.timer != nil {
			tx.timer.Stop()
		}
		close(tx.done)
		tx.mu.Unlock()
		close(tx.responses)
	})
}

// Terminate cancels the transaction without a final response (e.g. the UA
// is shutting down).
func (tx *ClientTx) Terminate() { tx.finish(nil) }
