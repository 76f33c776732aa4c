package media

import (
	"fmt"
	"strconv"
	"strings"
)

// RtpMap is one "a=rtpmap:<pt> <name>/<rate>" attribute, per spec.md §4.3.
type RtpMap struct {
	PT   int
	Name string
	Rate int
}

// MediaBlock is one "m=audio ..." section of a session description. Only
// audio is modeled; other media types are out of scope.
type MediaBlock struct {
	Port       int
	PayloadTypes []int
	ConnIP     string
	RtpMaps    []RtpMap
}

// Session is a parsed SDP body: the session-level connection address plus
// the media blocks found in it. Only the first audio block is used by the
// call layer, but all are kept for a caller that wants them.
type Session struct {
	ConnIP string
	Audio  []MediaBlock
}

// FirstAudio returns the first audio media block, if any.
func (s *Session) FirstAudio() (MediaBlock, bool) {
	if len(s.Audio) == 0 {
		return MediaBlock{}, false
	}
	return s.Audio[0], true
}

// EffectiveIP returns the block's own connection address if it overrode the
// session-level one, else the session-level address.
func (m MediaBlock) EffectiveIP(sessionIP string) string {
	if m.ConnIP != "" {
		return m.ConnIP
	}
	return sessionIP
}

// ParseSession parses an SDP body per spec.md §4.3: line-oriented
// "type=value", tracking the session "c=" line and opening a new media
// block on each "m=audio" line. "c=" lines found inside a media block
// override the session address for that block only. Unknown line types and
// media types other than audio are ignored.
func ParseSession(body string) (*Session, error) {
	sess := &Session{}
	var cur *MediaBlock
	skipping := false // inside a non-audio media block

	lines := strings.Split(body, "\n")
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			continue
		}
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		typ, value := line[0], line[2:]

		switch typ {
		case 'c':
			ip, ok := parseConnAddr(value)
			if !ok {
				return nil, fmt.Errorf("media: malformed c= line %q", line)
			}
			if skipping {
				continue
			}
			if cur != nil {
				cur.ConnIP = ip
			} else {
				sess.ConnIP = ip
			}
		case 'm':
			if cur != nil {
				sess.Audio = append(sess.Audio, *cur)
				cur = nil
			}
			mb, ok := parseMediaLine(value)
			skipping = !ok
			if !ok {
				continue
			}
			cur = &mb
		case 'a':
			if cur == nil {
				continue
			}
			if pt, name, rate, ok := parseRtpmap(value); ok {
				cur.RtpMaps = append(cur.RtpMaps, RtpMap{PT: pt, Name: name, Rate: rate})
			}
		}
	}
	if cur != nil {
		sess.Audio = append(sess.Audio, *cur)
	}
	return sess, nil
}

func parseConnAddr(value string) (string, bool) {
	// "IN IP4 <ip>"
	fields := strings.Fields(value)
	if len(fields) != 3 || fields[0] != "IN" {
		return "", false
	}
	return fields[2], true
}

func parseMediaLine(value string) (MediaBlock, bool) {
	// "audio <port> RTP/AVP <pt1> <pt2> ..."
	fields := strings.Fields(value)
	if len(fields) < 4 || fields[0] != "audio" {
		return MediaBlock{}, false
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return MediaBlock{}, false
	}
	mb := MediaBlock{Port: port}
	for _, f := range fields[3:] {
		pt, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		mb.PayloadTypes = append(mb.PayloadTypes, pt)
	}
	return mb, true
}

func parseRtpmap(value string) (pt int, name string, rate int, ok bool) {
	// "<pt> <name>/<rate>"
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return 0, "", 0, false
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, false
	}
	nameRate := strings.SplitN(parts[1], "/", 2)
	name = nameRate[0]
	if len(nameRate) == 2 {
		rate, _ = strconv.Atoi(nameRate[1])
	}
	return pt, name, rate, true
}

// OfferParams bundles the values substituted into a built offer or answer.
type OfferParams struct {
	User     string
	SID      int64
	LocalIP  string
	RTPPort  int
}

// BuildOffer renders the fixed-shape offer body specified in spec.md §4.3:
// PCMU, PCMA and telephone-event advertised in that order.
func BuildOffer(p OfferParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=%s %d %d IN IP4 %s\r\n", p.User, p.SID, p.SID, p.LocalIP)
	fmt.Fprintf(&b, "s=call\r\n")
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", p.LocalIP)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP 0 8 101\r\n", p.RTPPort)
	fmt.Fprintf(&b, "a=rtpmap:0 PCMU/8000\r\n")
	fmt.Fprintf(&b, "a=rtpmap:8 PCMA/8000\r\n")
	fmt.Fprintf(&b, "a=rtpmap:101 telephone-event/8000\r\n")
	fmt.Fprintf(&b, "a=fmtp:101 0-16\r\n")
	fmt.Fprintf(&b, "a=ptime:20\r\n")
	fmt.Fprintf(&b, "a=sendrecv\r\n")
	return b.String()
}

// BuildAnswer renders an answer SDP that echoes the first payload type the
// offer proposed which this engine also supports (0 = PCMU, 8 = PCMA), per
// spec.md §4.3's "answerer echoes the first common PT from the offer".
func BuildAnswer(p OfferParams, offer *Session) (string, int, error) {
	pt, ok := firstCommonPT(offer)
	if !ok {
		return "", 0, fmt.Errorf("media: no common payload type in offer")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=%s %d %d IN IP4 %s\r\n", p.User, p.SID, p.SID, p.LocalIP)
	fmt.Fprintf(&b, "s=call\r\n")
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", p.LocalIP)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", p.RTPPort, pt)
	fmt.Fprintf(&b, "a=rtpmap:%d %s\r\n", pt, rtpmapName(pt))
	fmt.Fprintf(&b, "a=ptime:20\r\n")
	fmt.Fprintf(&b, "a=sendrecv\r\n")
	return b.String(), pt, nil
}

func rtpmapName(pt int) string {
	switch pt {
	case 0:
		return "PCMU/8000"
	case 8:
		return "PCMA/8000"
	default:
		return "unknown/8000"
	}
}

func firstCommonPT(offer *Session) (int, bool) {
	mb, ok := offer.FirstAudio()
	if !ok {
		return 0, false
	}
	for _, pt := range mb.PayloadTypes {
		if pt == 0 || pt == 8 {
			return pt, true
		}
	}
	return 0, false
}
