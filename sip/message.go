package sip

// Message is implemented by *Request and *Response. It models spec.md §3's
// SIP Message: ordered headers, an opaque body, and the raw bytes used only
// for logging.
type Message interface {
	StartLine() string
	String() string

	Headers() []Header
	GetHeaders(name string) []Header
	GetHeader(name string) Header
	AppendHeader(h Header)
	PrependHeader(h ...Header)
	RemoveHeader(name string)
	ReplaceHeader(h Header)

	CallID() (*CallIDHeader, bool)
	Via() (*ViaHeader, bool)
	From() (*FromHeader, bool)
	To() (*ToHeader, bool)
	Contact() (*ContactHeader, bool)
	CSeq() (*CSeqHeader, bool)
	ContentLength() (*ContentLengthHeader, bool)
	ContentType() (*ContentTypeHeader, bool)

	Body() []byte
	SetBody(body []byte)

	// Raw holds exactly the bytes this message was parsed from, or is left
	// empty for messages the UA builds itself; only used for log(sip, ...)
	// events, never for protocol logic.
	Raw() []byte
	SetRaw(b []byte)
}

type messageData struct {
	headers
	SipVersion string
	body       []byte
	raw        []byte
}

func (m *messageData) Body() []byte { return m.body }

// SetBody sets the body and recomputes Content-Length from its length, per
// spec.md §4.4: "Content-Length is always computed from the body's byte
// length — never trusted from the caller."
func (m *messageData) SetBody(body []byte) {
	m.body = body
	cl := ContentLengthHeader(len(body))
	if _, ok := m.ContentLength(); ok {
		m.ReplaceHeader(&cl)
		return
	}
	m.AppendHeader(&cl)
}

func (m *messageData) Raw() []byte     { return m.raw }
func (m *messageData) SetRaw(b []byte) { m.raw = b }
