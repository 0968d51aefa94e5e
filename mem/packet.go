package mem

import (
	"errors"
	"fmt"

	"github.com/sarchlab/sesim/timing/clock"
)

// ErrNoRoute is returned when no responder claims an address.
var ErrNoRoute = errors.New("no responder for address")

// Cmd is the kind of a memory request.
type Cmd uint8

// Memory commands.
const (
	CmdRead Cmd = iota
	CmdFetch
	CmdWrite
	CmdWriteback
)

func (c Cmd) String() string {
	switch c {
	case CmdRead:
		return "ReadReq"
	case CmdFetch:
		return "InstFetch"
	case CmdWrite:
		return "WriteReq"
	case CmdWriteback:
		return "WritebackDirty"
	default:
		return fmt.Sprintf("Cmd(%d)", c)
	}
}

// IsRead reports whether the command reads data.
func (c Cmd) IsRead() bool {
	return c == CmdRead || c == CmdFetch
}

// Packet is a timing request travelling through the memory hierarchy.
type Packet struct {
	Cmd  Cmd
	Addr uint64
	Size uint64
}

// BlockAddr returns the packet address aligned down to blockSize.
func (p *Packet) BlockAddr(blockSize uint64) uint64 {
	return p.Addr &^ (blockSize - 1)
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s %#x (%dB)", p.Cmd, p.Addr, p.Size)
}

// Responder is the memory-side end of a connection. Access returns the tick
// at which the response for pkt is available to the requestor, given that
// the request arrives at tick at.
type Responder interface {
	Name() string
	AddrRanges() []AddrRange
	Access(pkt *Packet, at clock.Tick) (clock.Tick, error)
}
