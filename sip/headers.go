package sip

import (
	"fmt"
	"strconv"
	"strings"
)

// Header is a single SIP header line. Implementations corresponding to
// headers the UA parses structurally carry typed fields; everything else
// is kept as a GenericHeader so the message round-trips byte-for-byte in
// its values even for headers this UA does not understand.
type Header interface {
	Name() string
	Value() string
	String() string
	clone() Header
}

// Address is the "display-name <sip:uri>;params" shape shared by
// From/To/Contact, per spec.md's data model (headers carry ordered
// multi-valued params).
type Address struct {
	DisplayName string
	URI         Uri
	Params      map[string]string
}

func (a Address) String() string {
	var b strings.Builder
	if a.DisplayName != "" {
		b.WriteString(`"`)
		b.WriteString(a.DisplayName)
		b.WriteString(`" `)
	}
	b.WriteString("<")
	b.WriteString(a.URI.String())
	b.WriteString(">")
	for _, k := range sortedKeys(a.Params) {
		b.WriteString(";")
		b.WriteString(k)
		if v := a.Params[k]; v != "" {
			b.WriteString("=")
			b.WriteString(v)
		}
	}
	return b.String()
}

func (a Address) Tag() string { return a.Params["tag"] }

func sortedKeys(m map[string]string) []string {
	// preserve a stable, deterministic order without pulling in sort for these small maps
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// GenericHeader carries any header this package has no typed model for.
type GenericHeader struct {
	HeaderName string
	Contents   string
}

func (h *GenericHeader) Name() string  { return h.HeaderName }
func (h *GenericHeader) Value() string { return h.Contents }
func (h *GenericHeader) String() string {
	return h.HeaderName + ": " + h.Contents
}
func (h *GenericHeader) clone() Header {
	return &GenericHeader{HeaderName: h.HeaderName, Contents: h.Contents}
}

func NewHeader(name, value string) Header {
	return &GenericHeader{HeaderName: name, Contents: value}
}

type FromHeader struct{ Address }

func (h *FromHeader) Name() string   { return "From" }
func (h *FromHeader) Value() string  { return h.Address.String() }
func (h *FromHeader) String() string { return "From: " + h.Value() }
func (h *FromHeader) clone() Header  { return &FromHeader{cloneAddress(h.Address)} }

type ToHeader struct{ Address }

func (h *ToHeader) Name() string   { return "To" }
func (h *ToHeader) Value() string  { return h.Address.String() }
func (h *ToHeader) String() string { return "To: " + h.Value() }
func (h *ToHeader) clone() Header  { return &ToHeader{cloneAddress(h.Address)} }

type ContactHeader struct{ Address }

func (h *ContactHeader) Name() string   { return "Contact" }
func (h *ContactHeader) Value() string  { return h.Address.String() }
func (h *ContactHeader) String() string { return "Contact: " + h.Value() }
func (h *ContactHeader) clone() Header  { return &ContactHeader{cloneAddress(h.Address)} }

func cloneAddress(a Address) Address {
	n := Address{DisplayName: a.DisplayName, URI: a.URI.Clone()}
	if a.Params != nil {
		n.Params = make(map[string]string, len(a.Params))
		for k, v := range a.Params {
			n.Params[k] = v
		}
	}
	return n
}

// ViaHeader models exactly one Via hop; this UA never produces or consumes
// a multi-hop Via since it never acts as a proxy.
type ViaHeader struct {
	Transport string // UDP, TCP, TLS (uppercase, per spec.md Via-Transport binding)
	Host      string
	Port      int
	Params    map[string]string
}

func (h *ViaHeader) Name() string { return "Via" }
func (h *ViaHeader) Value() string {
	var b strings.Builder
	b.WriteString("SIP/2.0/")
	b.WriteString(h.Transport)
	b.WriteString(" ")
	b.WriteString(h.Host)
	if h.Port != 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(h.Port))
	}
	for _, k := range sortedKeys(h.Params) {
		b.WriteString(";")
		b.WriteString(k)
		if v := h.Params[k]; v != "" {
			b.WriteString("=")
			b.WriteString(v)
		}
	}
	return b.String()
}
func (h *ViaHeader) String() string { return "Via: " + h.Value() }
func (h *ViaHeader) Branch() string { return h.Params["branch"] }
func (h *ViaHeader) clone() Header {
	n := &ViaHeader{Transport: h.Transport, Host: h.Host, Port: h.Port}
	if h.Params != nil {
		n.Params = make(map[string]string, len(h.Params))
		for k, v := range h.Params {
			n.Params[k] = v
		}
	}
	return n
}

type CallIDHeader string

func (h *CallIDHeader) Name() string   { return "Call-ID" }
func (h *CallIDHeader) Value() string  { return string(*h) }
func (h *CallIDHeader) String() string { return "Call-ID: " + h.Value() }
func (h *CallIDHeader) clone() Header  { c := *h; return &c }

type CSeqHeader struct {
	SeqNo  uint32
	Method RequestMethod
}

func (h *CSeqHeader) Name() string   { return "CSeq" }
func (h *CSeqHeader) Value() string  { return fmt.Sprintf("%d %s", h.SeqNo, h.Method) }
func (h *CSeqHeader) String() string { return "CSeq: " + h.Value() }
func (h *CSeqHeader) clone() Header  { c := *h; return &c }

type ContentLengthHeader uint32

func (h *ContentLengthHeader) Name() string   { return "Content-Length" }
func (h *ContentLengthHeader) Value() string  { return strconv.Itoa(int(*h)) }
func (h *ContentLengthHeader) String() string { return "Content-Length: " + h.Value() }
func (h *ContentLengthHeader) clone() Header  { c := *h; return &c }

type ContentTypeHeader string

func (h *ContentTypeHeader) Name() string   { return "Content-Type" }
func (h *ContentTypeHeader) Value() string  { return string(*h) }
func (h *ContentTypeHeader) String() string { return "Content-Type: " + h.Value() }
func (h *ContentTypeHeader) clone() Header  { c := *h; return &c }

type MaxForwardsHeader uint32

func (h *MaxForwardsHeader) Name() string   { return "Max-Forwards" }
func (h *MaxForwardsHeader) Value() string  { return strconv.Itoa(int(*h)) }
func (h *MaxForwardsHeader) String() string { return "Max-Forwards: " + h.Value() }
func (h *MaxForwardsHeader) clone() Header  { c := *h; return &c }

type ExpiresHeader uint32

func (h *ExpiresHeader) Name() string   { return "Expires" }
func (h *ExpiresHeader) Value() string  { return strconv.Itoa(int(*h)) }
func (h *ExpiresHeader) String() string { return "Expires: " + h.Value() }
func (h *ExpiresHeader) clone() Header  { c := *h; return &c }

// headers is the ordered header multimap described in spec.md §4.4:
// names are stored as received (not lowercased) and matched
// case-insensitively on lookup, insertion order is preserved for
// serialization, and duplicate names retain every value.
type headers struct {
	order []Header

	via           *ViaHeader
	from          *FromHeader
	to            *ToHeader
	contact       *ContactHeader
	callID        *CallIDHeader
	cseq          *CSeqHeader
	contentLength *ContentLengthHeader
	contentType   *ContentTypeHeader
}

func (hs *headers) Headers() []Header { return hs.order }

func (hs *headers) AppendHeader(h Header) {
	hs.order = append(hs.order, h)
	hs.index(h)
}

func (hs *headers) index(h Header) {
	switch v := h.(type) {
	case *ViaHeader:
		if hs.via == nil {
			hs.via = v
		}
	case *FromHeader:
		hs.from = v
	case *ToHeader:
		hs.to = v
	case *ContactHeader:
		hs.contact = v
	case *CallIDHeader:
		hs.callID = v
	case *CSeqHeader:
		hs.cseq = v
	case *ContentLengthHeader:
		hs.contentLength = v
	case *ContentTypeHeader:
		hs.contentType = v
	}
}

func (hs *headers) PrependHeader(h ...Header) {
	hs.order = append(append([]Header{}, h...), hs.order...)
	for _, hh := range h {
		hs.index(hh)
	}
}

func (hs *headers) RemoveHeader(name string) {
	name = HeaderToLower(name)
	out := hs.order[:0]
	for _, h := range hs.order {
		if HeaderToLower(h.Name()) == name {
			continue
		}
		out = append(out, h)
	}
	hs.order = out
	hs.reindex()
}

func (hs *headers) ReplaceHeader(h Header) {
	name := HeaderToLower(h.Name())
	replaced := false
	for i, e := range hs.order {
		if HeaderToLower(e.Name()) == name {
			hs.order[i] = h
			replaced = true
			break
		}
	}
	if !replaced {
		hs.order = append(hs.order, h)
	}
	hs.reindex()
}

func (hs *headers) reindex() {
	hs.via, hs.from, hs.to, hs.contact, hs.callID, hs.cseq, hs.contentLength, hs.contentType = nil, nil, nil, nil, nil, nil, nil, nil
	for _, h := range hs.order {
		hs.index(h)
	}
}

func (hs *headers) GetHeader(name string) Header {
	name = HeaderToLower(name)
	for _, h := range hs.order {
		if HeaderToLower(h.Name()) == name {
			return h
		}
	}
	return nil
}

func (hs *headers) GetHeaders(name string) []Header {
	name = HeaderToLower(name)
	var out []Header
	for _, h := range hs.order {
		if HeaderToLower(h.Name()) == name {
			out = append(out, h)
		}
	}
	return out
}

func (hs *headers) Via() (*ViaHeader, bool)                     { return hs.via, hs.via != nil }
func (hs *headers) From() (*FromHeader, bool)                   { return hs.from, hs.from != nil }
func (hs *headers) To() (*ToHeader, bool)                       { return hs.to, hs.to != nil }
func (hs *headers) Contact() (*ContactHeader, bool)             { return hs.contact, hs.contact != nil }
func (hs *headers) CallID() (*CallIDHeader, bool)               { return hs.callID, hs.callID != nil }
func (hs *headers) CSeq() (*CSeqHeader, bool)                   { return hs.cseq, hs.cseq != nil }
func (hs *headers) ContentLength() (*ContentLengthHeader, bool) { return hs.contentLength, hs.contentLength != nil }
func (hs *headers) ContentType() (*ContentTypeHeader, bool)     { return hs.contentType, hs.contentType != nil }

// CopyHeaders clones every header with the given name from one message
// onto another, preserving order among themselves, the way dialog code
// needs to carry From/To/Call-ID across requests in the same dialog.
func CopyHeaders(name string, from, to Message) {
	for _, h := range from.GetHeaders(name) {
		to.AppendHeader(h.clone())
	}
}

// HeaderClone exposes the package-private clone to callers outside the
// package that already hold a concrete Header value (ua package dialog code).
func HeaderClone(h Header) Header { return h.clone() }
