// Package transaction implements the slice of RFC 3261 §17 client/server
// transaction behavior spec.md §4.7 actually specifies: branch-keyed
// request/response matching, a REGISTER retry timer (5s, up to 3 attempts),
// and INVITE transactions that retry only across explicit Authorization
// retries, never silently. It is grounded on the teacher's transaction
// package (client_tx.go/server_tx.go/fsm.go), trimmed to the states the
// UA core actually drives instead of the full §17 state machine.
package transaction

import (
	"fmt"

	"github.com/gosoftphone/core/sip"
)

// Key identifies a transaction by the RFC 3261-recommended tuple: the Via
// branch plus the CSeq method (ACK shares the INVITE transaction's branch
// but is not itself matched to one).
func Key(branch string, method sip.RequestMethod) string {
	return fmt.Sprintf("%s|%s", branch, method)
}

// RequestKey derives a transaction key from a request's own Via branch and
// CSeq method.
func RequestKey(req *sip.Request) (string, error) {
	vh, ok := req.Via()
	if !ok {
		return "", fmt.Errorf("transaction: request has no Via header")
	}
	cseq, ok := req.CSeq()
	if !ok {
		return "", fmt.Errorf("transaction: request has no CSeq header")
	}
	return Key(vh.Branch(), cseq.Method), nil
}

// ResponseKey derives the transaction key a response should match against:
// its own top Via branch plus its CSeq method (unaffected by which status
// the response carries).
func ResponseKey(res *sip.Response) (string, error) {
	vh, ok := res.Via()
	if !ok {
		return "", fmt.Errorf("transaction: response has no Via header")
	}
	cseq, ok := res.CSeq()
	if !ok {
		return "", fmt.Errorf("transaction: response has no CSeq header")
	}
	return Key(vh.Branch(), cseq.Method), nil
}
