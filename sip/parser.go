package sip

import (
	"errors"
	"strconv"
	"strings"
)

var ErrParse = errors.New("sip: parse error")

// ParseMessage implements spec.md §4.4: line-based on CRLF (bare LF
// tolerated, matching real-world UAs), start line classifies request vs
// response by whether it begins with "SIP/2.0", header names keep the case
// they arrived in (they are not lowercased; lookups compare them
// case-insensitively), values are trimmed, duplicate header names are kept in order,
// and the body is exactly Content-Length bytes when present, else the
// remainder of the buffer.
func ParseMessage(raw []byte) (Message, error) {
	text := string(raw)
	// Fall back to bare-\n line endings when no CRLF blank line is found,
	// so callers that hand us bare-\n buffers (some test fixtures, some
	// minimal peers) still parse. Mixed endings are not normalized.
	lineEnd := "\r\n"
	headerBlock := text
	body := []byte{}

	sep := "\r\n\r\n"
	idx := strings.Index(text, sep)
	if idx < 0 {
		sep = "\n\n"
		idx = strings.Index(text, sep)
		if idx < 0 {
			return nil, ErrParse
		}
		lineEnd = "\n"
	}
	headerBlock = text[:idx]
	rest := raw[idx+len(sep):]

	lines := strings.Split(headerBlock, lineEnd)
	if len(lines) == 0 || lines[0] == "" {
		return nil, ErrParse
	}
	startLine := lines[0]

	var msg Message
	if strings.HasPrefix(startLine, "SIP/2.0") {
		parts := strings.SplitN(startLine, " ", 3)
		if len(parts) < 2 {
			return nil, ErrParse
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, ErrParse
		}
		reason := ""
		if len(parts) == 3 {
			reason = parts[2]
		}
		res := NewResponse(StatusCode(code), reason)
		msg = res
	} else {
		parts := strings.SplitN(startLine, " ", 3)
		if len(parts) != 3 {
			return nil, ErrParse
		}
		uri, err := ParseUri(parts[1])
		if err != nil {
			return nil, ErrParse
		}
		req := NewRequest(RequestMethod(parts[0]), uri)
		req.SipVersion = parts[2]
		msg = req
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		h, err := parseHeader(name, value)
		if err != nil {
			return nil, err
		}
		msg.AppendHeader(h)
	}
	contentLength := len(rest)
	if cl, ok := msg.ContentLength(); ok {
		contentLength = int(*cl)
	}
	if contentLength > len(rest) {
		return nil, ErrParse
	}
	body = rest[:contentLength]
	msg.SetBody(body)
	msg.SetRaw(raw)
	return msg, nil
}

func parseHeader(name, value string) (Header, error) {
	switch HeaderToLower(name) {
	case "via", "v":
		return parseVia(value)
	case "from", "f":
		a, err := parseAddress(value)
		if err != nil {
			return nil, err
		}
		return &FromHeader{a}, nil
	case "to", "t":
		a, err := parseAddress(value)
		if err != nil {
			return nil, err
		}
		return &ToHeader{a}, nil
	case "contact", "m":
		a, err := parseAddress(value)
		if err != nil {
			return nil, err
		}
		return &ContactHeader{a}, nil
	case "call-id", "i":
		c := CallIDHeader(value)
		return &c, nil
	case "cseq":
		parts := strings.SplitN(value, " ", 2)
		if len(parts) != 2 {
			return nil, ErrParse
		}
		n, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, ErrParse
		}
		return &CSeqHeader{SeqNo: uint32(n), Method: RequestMethod(strings.TrimSpace(parts[1]))}, nil
	case "content-length", "l":
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return nil, ErrParse
		}
		c := ContentLengthHeader(n)
		return &c, nil
	case "content-type", "c":
		c := ContentTypeHeader(value)
		return &c, nil
	case "max-forwards":
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return nil, ErrParse
		}
		m := MaxForwardsHeader(n)
		return &m, nil
	case "expires":
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return nil, ErrParse
		}
		e := ExpiresHeader(n)
		return &e, nil
	default:
		return &GenericHeader{HeaderName: name, Contents: value}, nil
	}
}

// parseAddress parses the common "Display Name" <sip:uri>;params form used
// by From/To/Contact, tolerating a bare URI with no angle brackets.
func parseAddress(value string) (Address, error) {
	a := Address{}
	v := strings.TrimSpace(value)

	if v == "*" {
		return Address{URI: Uri{Host: "*"}}, nil
	}

	if i := strings.Index(v, "<"); i >= 0 {
		a.DisplayName = strings.Trim(strings.TrimSpace(v[:i]), `"`)
		rest := v[i+1:]
		end := strings.Index(rest, ">")
		if end < 0 {
			return a, ErrParse
		}
		uriPart := rest[:end]
		paramPart := strings.TrimPrefix(rest[end+1:], ";")
		uri, err := ParseUri(uriPart)
		if err != nil {
			return a, err
		}
		a.URI = uri
		a.Params = parseParams(paramPart)
		return a, nil
	}

	// bare uri, optionally with trailing ;params
	parts := strings.SplitN(v, ";", 2)
	uri, err := ParseUri(parts[0])
	if err != nil {
		return a, err
	}
	a.URI = uri
	if len(parts) == 2 {
		a.Params = parseParams(parts[1])
	}
	return a, nil
}

func parseParams(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		if eq := strings.Index(kv, "="); eq >= 0 {
			out[strings.ToLower(kv[:eq])] = strings.Trim(kv[eq+1:], `"`)
		} else {
			out[strings.ToLower(kv)] = ""
		}
	}
	return out
}

func parseVia(value string) (*ViaHeader, error) {
	// "SIP/2.0/UDP host:port;branch=...;received=...;rport"
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return nil, ErrParse
	}
	protoParts := strings.Split(parts[0], "/")
	if len(protoParts) != 3 {
		return nil, ErrParse
	}
	transport := strings.ToUpper(protoParts[2])

	rest := parts[1]
	hostPort := rest
	var paramPart string
	if idx := strings.Index(rest, ";"); idx >= 0 {
		hostPort = rest[:idx]
		paramPart = rest[idx+1:]
	}
	host, port := hostPort, 0
	if idx := strings.LastIndex(hostPort, ":"); idx >= 0 {
		host = hostPort[:idx]
		if p, err := strconv.Atoi(hostPort[idx+1:]); err == nil {
			port = p
		}
	}
	return &ViaHeader{
		Transport: transport,
		Host:      strings.TrimSpace(host),
		Port:      port,
		Params:    parseParams(paramPart),
	}, nil
}
