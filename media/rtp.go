package media

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sampleRate       = 8000
	packetTime       = 20 * time.Millisecond
	samplesPerPacket = 160
	tsPerPacket      = uint32(samplesPerPacket)

	// PTPCMU and PTPCMA are the only payload types the engine can decode
	// or encode, per spec.md §4.2.
	PTPCMU = 0
	PTPCMA = 8
)

// AudioHandler receives decoded PCM from inbound RTP packets.
type AudioHandler func(pcm []int16)

// ErrorHandler receives non-fatal send/receive failures.
type ErrorHandler func(err error)

// LossHandler is called with the number of inbound RTP sequence numbers
// skipped since the previous packet, whenever that number is nonzero.
type LossHandler func(n uint64)

// SentHandler is called once for every RTP packet actually written to the
// wire, including silence-padded ticks.
type SentHandler func()

// Stats is a snapshot of one engine's packet counters.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
}

// Engine is the RTP send/receive loop for one call, per spec.md §4.2: a UDP
// socket, a 20ms emission tick, a microphone queue, and symmetric-RTP
// learning of the remote endpoint.
type Engine struct {
	log zerolog.Logger

	mu         sync.Mutex
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	// remoteLearned is true once the remote endpoint has been fixed by a
	// source address actually seen on the wire (or an explicit
	// UpdateRemote), per spec.md §8 scenario 3: the SDP-advertised address
	// set by Start is only a provisional guess and is always superseded by
	// the source of the first valid inbound packet.
	remoteLearned bool
	pt            byte
	muted         bool
	queue         [][]int16

	seq  uint16
	ts   uint32
	ssrc uint32

	// haveLastSeq/lastSeq track the inbound sequence stream for loss
	// detection; sentCount/recvCount/lostCount are the counters Stats
	// reports.
	haveLastSeq bool
	lastSeq     uint16
	sentCount   uint64
	recvCount   uint64
	lostCount   uint64

	active bool
	cancel chan struct{}
	done   chan struct{}

	OnAudio AudioHandler
	OnError ErrorHandler
	OnLoss  LossHandler
	OnSent  SentHandler
}

// Stats returns a snapshot of this engine's packet counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		PacketsSent:     e.sentCount,
		PacketsReceived: e.recvCount,
		PacketsLost:     e.lostCount,
	}
}

// NewEngine constructs an idle engine. Call Bind then Start to begin
// exchanging media.
func NewEngine() *Engine {
	return &Engine{
		log:    log.Logger.With().Str("caller", "media.Engine").Logger(),
		ssrc:   generateSSRC(),
		cancel: make(chan struct{}),
	}
}

func generateSSRC() uint32 {
	var b [4]byte
	// time-seeded, not cryptographically significant: SSRC only needs to
	// be distinct enough to identify this source within one session.
	now := time.Now().UnixNano()
	binary.BigEndian.PutUint32(b[:], uint32(now))
	return binary.BigEndian.Uint32(b[:])
}

// Bind opens a UDP socket on an ephemeral port on 0.0.0.0 and returns the
// bound port.
func (e *Engine) Bind() (int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return 0, fmt.Errorf("media: bind rtp socket: %w", err)
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// Start begins the 20ms periodic emission toward (remoteIP, remotePort)
// using payload type pt, and begins reading inbound packets.
func (e *Engine) Start(remoteIP string, remotePort int, pt int) error {
	e.mu.Lock()
	if e.conn == nil {
		e.mu.Unlock()
		return fmt.Errorf("media: start before bind")
	}
	if e.active {
		e.mu.Unlock()
		return fmt.Errorf("media: already active")
	}
	// The SDP-advertised address is only a provisional destination: it
	// lets the engine send before any inbound packet has arrived, but it
	// is not "learned" and the first valid inbound packet still replaces
	// it, per spec.md §8 scenario 3.
	addr := net.ParseIP(remoteIP)
	if addr != nil && !addr.IsUnspecified() {
		e.remoteAddr = &net.UDPAddr{IP: addr, Port: remotePort}
	}
	e.pt = byte(pt)
	e.active = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.readLoop()
	go e.tickLoop()
	return nil
}

// FeedMic appends a PCM block to the outbound queue. Blocks should be 160
// samples but any size is accepted and treated as one opaque block encoded
// whole on its tick.
func (e *Engine) FeedMic(pcm []int16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, pcm)
}

// SetMuted toggles whether the engine sends real audio or silence.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

// UpdateRemote rebinds the send destination without disturbing
// sequence/timestamp/SSRC state. Unlike the address Start is given, this is
// an explicit, authoritative rebind and is treated as learned: it is not
// overridden by a later inbound packet from the address it replaces.
func (e *Engine) UpdateRemote(ip string, port int) {
	e.mu.Lock()
	e.remoteAddr = &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	e.remoteLearned = true
	e.mu.Unlock()
}

// Close stops the tick loop and closes the socket. Idempotent: calling it
// twice, or after the engine was never started, does nothing.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	conn := e.conn
	done := e.done
	e.mu.Unlock()

	close(e.cancel)
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (e *Engine) tickLoop() {
	ticker := time.NewTicker(packetTime)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-e.cancel:
			return
		case <-ticker.C:
			e.sendTick()
		}
	}
}

func (e *Engine) sendTick() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	conn := e.conn
	dst := e.remoteAddr
	pt := e.pt

	var payload []byte
	if !e.muted && len(e.queue) > 0 {
		block := e.queue[0]
		e.queue = e.queue[1:]
		payload = encodeForPT(pt, block)
	} else {
		payload = silencePayload(pt, samplesPerPacket)
	}

	seq := e.seq
	ts := e.ts
	ssrc := e.ssrc
	e.seq++
	e.ts += tsPerPacket
	e.mu.Unlock()

	if dst == nil {
		return
	}
	pkt := buildRTPHeader(pt, seq, ts, ssrc)
	pkt = append(pkt, payload...)

	if _, err := conn.WriteToUDP(pkt, dst); err != nil {
		e.log.Warn().Err(err).Msg("rtp send failed")
		if e.OnError != nil {
			e.OnError(fmt.Errorf("media: rtp send: %w", err))
		}
		return
	}

	e.mu.Lock()
	e.sentCount++
	e.mu.Unlock()
	if e.OnSent != nil {
		e.OnSent()
	}
}

func (e *Engine) readLoop() {
	buf := make([]byte, 2048)
	for {
		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}

		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.cancel:
				return
			default:
			}
			if !e.active {
				return
			}
			e.log.Debug().Err(err).Msg("rtp read closed")
			return
		}
		e.handleInbound(buf[:n], src)
	}
}

func (e *Engine) handleInbound(data []byte, src *net.UDPAddr) {
	if len(data) < 12 {
		return
	}
	if data[0]>>6 != 2 {
		return
	}
	pt := data[1] & 0x7F

	e.mu.Lock()
	if !e.remoteLearned {
		e.remoteAddr = &net.UDPAddr{IP: append(net.IP{}, src.IP...), Port: src.Port}
		e.remoteLearned = true
		e.mu.Unlock()
		e.log.Info().Str("src", src.String()).Msg("symmetric rtp: learned remote endpoint")
	} else {
		e.mu.Unlock()
	}

	var pcm []int16
	switch pt {
	case PTPCMU:
		pcm = DecodeMulaw(data[12:])
	case PTPCMA:
		pcm = DecodeAlaw(data[12:])
	default:
		return
	}

	seq := binary.BigEndian.Uint16(data[2:4])
	e.mu.Lock()
	e.recvCount++
	lost := e.noteSeqLocked(seq)
	e.mu.Unlock()
	if lost > 0 && e.OnLoss != nil {
		e.OnLoss(lost)
	}

	if e.OnAudio != nil {
		e.OnAudio(pcm)
	}
}

// noteSeqLocked updates the last-seen inbound sequence number and returns
// the number of sequence numbers skipped since the previous packet, or 0 for
// the first packet, an in-order packet, a duplicate, or a reordered packet
// arriving behind the high-water mark. Must be called with e.mu held.
func (e *Engine) noteSeqLocked(seq uint16) uint64 {
	if !e.haveLastSeq {
		e.haveLastSeq = true
		e.lastSeq = seq
		return 0
	}
	delta := int32(seq) - int32(e.lastSeq)
	switch {
	case delta < -32768:
		delta += 65536
	case delta > 32768:
		delta -= 65536
	}
	if delta <= 0 {
		return 0
	}
	e.lastSeq = seq
	if delta == 1 {
		return 0
	}
	gap := uint64(delta - 1)
	e.lostCount += gap
	return gap
}

func buildRTPHeader(pt byte, seq uint16, ts, ssrc uint32) []byte {
	h := make([]byte, 12)
	h[0] = 0x80 // V=2, P=0, X=0, CC=0
	h[1] = pt & 0x7F
	binary.BigEndian.PutUint16(h[2:4], seq)
	binary.BigEndian.PutUint32(h[4:8], ts)
	binary.BigEndian.PutUint32(h[8:12], ssrc)
	return h
}

func encodeForPT(pt byte, pcm []int16) []byte {
	switch pt {
	case PTPCMA:
		return EncodeAlaw(pcm)
	default:
		return EncodeMulaw(pcm)
	}
}

func silencePayload(pt byte, n int) []byte {
	b := make([]byte, n)
	fill := MulawSilenceByte
	if pt == PTPCMA {
		fill = AlawSilenceByte
	}
	for i := range b {
		b[i] = fill
	}
	return b
}
