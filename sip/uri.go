package sip

import (
	"strconv"
	"strings"
)

// Uri is a minimal sip: URI, enough for an AOR, a Contact or a Request-URI.
// Grounded on sipgo's sip.Uri but trimmed to the fields this UA needs
// (no tel: URIs, no URI headers, a flat parameter map instead of a linked
// param list).
type Uri struct {
	User      string
	Host      string
	Port      int
	Transport string // value of the "transport" URI parameter, lowercase
	Params    map[string]string
	Secure    bool // sips:
}

func (u Uri) HostPort() string {
	if u.Port == 0 {
		return u.Host
	}
	return u.Host + ":" + strconv.Itoa(u.Port)
}

func (u Uri) String() string {
	var b strings.Builder
	u.StringWrite(&b)
	return b.String()
}

func (u Uri) StringWrite(b *strings.Builder) {
	if u.Secure {
		b.WriteString("sips:")
	} else {
		b.WriteString("sip:")
	}
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteString("@")
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(u.Port))
	}
	if u.Transport != "" {
		b.WriteString(";transport=")
		b.WriteString(u.Transport)
	}
	for k, v := range u.Params {
		b.WriteString(";")
		b.WriteString(k)
		if v != "" {
			b.WriteString("=")
			b.WriteString(v)
		}
	}
}

func (u Uri) Clone() Uri {
	n := u
	if u.Params != nil {
		n.Params = make(map[string]string, len(u.Params))
		for k, v := range u.Params {
			n.Params[k] = v
		}
	}
	return n
}

// ParseUri parses "sip:user@host:port;param=val;transport=tcp" forms.
// Angle brackets, if present, must already be stripped by the caller
// (parseAddress does that for name-addr headers).
func ParseUri(raw string) (Uri, error) {
	raw = strings.TrimSpace(raw)
	u := Uri{}
	rest := raw
	switch {
	case strings.HasPrefix(rest, "sips:"):
		u.Secure = true
		rest = rest[len("sips:"):]
	case strings.HasPrefix(rest, "sip:"):
		rest = rest[len("sip:"):]
	}

	// split off ;params
	var paramPart string
	if idx := strings.Index(rest, ";"); idx >= 0 {
		paramPart = rest[idx+1:]
		rest = rest[:idx]
	}

	if idx := strings.LastIndex(rest, "@"); idx >= 0 {
		u.User = rest[:idx]
		rest = rest[idx+1:]
	}

	host, port := rest, ""
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
		port = rest[idx+1:]
	}
	u.Host = host
	if port != "" {
		p, err := strconv.Atoi(port)
		if err == nil {
			u.Port = p
		}
	}

	if paramPart != "" {
		u.Params = map[string]string{}
		for _, kv := range strings.Split(paramPart, ";") {
			if kv == "" {
				continue
			}
			if eq := strings.Index(kv, "="); eq >= 0 {
				k, v := kv[:eq], kv[eq+1:]
				if strings.EqualFold(k, "transport") {
					u.Transport = strings.ToLower(v)
					continue
				}
				u.Params[strings.ToLower(k)] = v
			} else {
				u.Params[strings.ToLower(kv)] = ""
			}
		}
	}
	return u, nil
}
