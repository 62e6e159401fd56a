package wire

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

const packetLogPrefix = "wire:packet"

// DefaultPacketSize is the datagram size used when none is configured.
const DefaultPacketSize = 1024

// DefaultPacketGap separates consecutive packets of one message.
const DefaultPacketGap = 100 * time.Microsecond

// PadByte terminates a message whose length is an exact multiple of the
// packet size. Decoders ignore it as a trailing byte.
const PadByte byte = ' '

var (
	ErrTimeout         = errors.New("receive timed out")
	ErrMessageTooLarge = errors.New("reassembled message exceeds limit")
)

// Packetize splits msg into packets of at most size bytes. The last packet
// is always shorter than size, so a receiver knows the message is complete
// without waiting for a timeout.
func Packetize(msg []byte, size int) [][]byte {
	if size < 1 {
		size = DefaultPacketSize
	}
	if len(msg)%size == 0 {
		padded := make([]byte, len(msg)+1)
		copy(padded, msg)
		padded[len(msg)] = PadByte
		msg = padded
	}
	out := make([][]byte, 0, len(msg)/size+1)
	for len(msg) > 0 {
		n := min(size, len(msg))
		out = append(out, msg[:n])
		msg = msg[n:]
	}
	return out
}

// SendAsPackets writes msg to addr packet by packet, sleeping gap between
// packets.
func SendAsPackets(conn net.PacketConn, addr net.Addr, msg []byte, size int, gap time.Duration) error {
	packets := Packetize(msg, size)
	for i, p := range packets {
		if i > 0 && gap > 0 {
			time.Sleep(gap)
		}
		if _, err := conn.WriteTo(p, addr); err != nil {
			return fmt.Errorf("%s - send packet %d/%d to %s: %w", packetLogPrefix, i+1, len(packets), addr, err)
		}
	}
	return nil
}

// Reassembler joins packets into messages, one partial message per source
// address. It is used by a single receiving goroutine at a time.
type Reassembler struct {
	size    int
	max     int
	partial map[string][]byte
}

// NewReassembler creates a reassembler for packets of the given size. A
// partial message growing beyond max bytes is discarded.
func NewReassembler(size, max int) *Reassembler {
	if size < 1 {
		size = DefaultPacketSize
	}
	return &Reassembler{size: size, max: max, partial: make(map[string][]byte)}
}

// Add appends packet to the message from addr and reports whether the
// message is complete.
func (r *Reassembler) Add(addr net.Addr, packet []byte) ([]byte, bool, error) {
	key := addr.String()
	buf := append(r.partial[key], packet...)
	if r.max > 0 && len(buf) > r.max {
		delete(r.partial, key)
		return nil, false, fmt.Errorf("%s - from %s: %w", packetLogPrefix, key, ErrMessageTooLarge)
	}
	if len(packet) == r.size {
		r.partial[key] = buf
		return nil, false, nil
	}
	delete(r.partial, key)
	return buf, true, nil
}

// Pending returns the number of sources with a partial message.
func (r *Reassembler) Pending() int { return len(r.partial) }

// Forget drops the partial message of addr.
func (r *Reassembler) Forget(addr net.Addr) { delete(r.partial, addr.String()) }

// ReadMessage reads packets until one message is complete or timeout
// elapses, in which case it returns ErrTimeout. buf must hold one packet.
func ReadMessage(conn net.PacketConn, r *Reassembler, buf []byte, timeout time.Duration) ([]byte, net.Addr, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("%s - set deadline: %w", packetLogPrefix, err)
	}
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, nil, ErrTimeout
			}
			return nil, nil, fmt.Errorf("%s - receive: %w", packetLogPrefix, err)
		}
		msg, done, err := r.Add(addr, buf[:n])
		if err != nil {
			return nil, addr, err
		}
		if done {
			return msg, addr, nil
		}
	}
}
