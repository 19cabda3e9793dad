package flash

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// scriptStream replays canned bootloader bytes and records what the host sent
type scriptStream struct {
	tx       bytes.Buffer
	rx       []byte
	flushes  int
	writeErr error
	short    bool
}

func newScriptStream(rx ...byte) *scriptStream {
	return &scriptStream{rx: rx}
}

func (s *scriptStream) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.short && len(p) > 0 {
		s.tx.Write(p[:len(p)-1])
		return len(p) - 1, nil
	}
	return s.tx.Write(p)
}

func (s *scriptStream) ReadExact(p []byte) error {
	if len(s.rx) < len(p) {
		return errors.Wrapf(ErrTimeout, "got %d of %d bytes", len(s.rx), len(p))
	}
	copy(p, s.rx)
	s.rx = s.rx[len(p):]
	return nil
}

func (s *scriptStream) Flush() error {
	s.flushes++
	return nil
}

type memOp struct {
	addr uint32
	n    int
}

// fakeBootloader simulates a STM32 system memory bootloader. It parses the
// frames written by the host, keeps a sparse memory image and queues the
// replies a real chip would send.
type fakeBootloader struct {
	in   []byte
	out  []byte
	step func() bool
	addr uint32

	mem       map[uint32]byte
	commands  []Command
	version   byte
	protocol  byte
	pid       uint16
	syncReply byte
	base      uint32
	pageSize  uint32

	acks      int
	ackFaults map[int]byte
	corrupt   map[uint32]byte

	log          []Command
	writes       []memOp
	reads        []memOp
	erased       [][]uint16
	globalErases []BankErase
	jumps        []uint32
	syncs        int
	flushes      int
}

func newFakeBootloader() *fakeBootloader {
	return &fakeBootloader{
		mem: map[uint32]byte{},
		commands: []Command{
			CommandGet, CommandGetVersion, CommandGetID, CommandReadMemory,
			CommandGo, CommandWriteMemory, CommandErase, CommandWriteProtect,
			CommandWriteUnprotect, CommandReadoutProtect, CommandReadoutUnprotect,
		},
		version:   0x22,
		protocol:  0x31,
		pid:       0x0410,
		syncReply: byte(ResponseAck),
		base:      DefaultBaseAddress,
		pageSize:  DefaultPageSize,
		ackFaults: map[int]byte{},
		corrupt:   map[uint32]byte{},
	}
}

// withExtendedErase swaps the erase command for extended erase
func (f *fakeBootloader) withExtendedErase() *fakeBootloader {
	for i, c := range f.commands {
		if c == CommandErase {
			f.commands[i] = CommandExtendedErase
		}
	}
	return f
}

func (f *fakeBootloader) Write(p []byte) (int, error) {
	f.in = append(f.in, p...)
	for {
		if f.step == nil {
			f.step = f.idle
		}
		if !f.step() {
			return len(p), nil
		}
	}
}

func (f *fakeBootloader) ReadExact(p []byte) error {
	if len(f.out) < len(p) {
		return errors.Wrapf(ErrTimeout, "got %d of %d bytes", len(f.out), len(p))
	}
	copy(p, f.out)
	f.out = f.out[len(p):]
	return nil
}

func (f *fakeBootloader) Flush() error {
	f.flushes++
	return nil
}

func (f *fakeBootloader) take(n int) ([]byte, bool) {
	if len(f.in) < n {
		return nil, false
	}
	bs := append([]byte(nil), f.in[:n]...)
	f.in = f.in[n:]
	return bs, true
}

func (f *fakeBootloader) ack() {
	f.acks++
	if b, ok := f.ackFaults[f.acks]; ok {
		f.out = append(f.out, b)
		return
	}
	f.out = append(f.out, byte(ResponseAck))
}

func (f *fakeBootloader) nack() {
	f.out = append(f.out, byte(ResponseNack))
}

// done returns to waiting for a command
func (f *fakeBootloader) done() bool {
	f.step = nil
	return true
}

func (f *fakeBootloader) idle() bool {
	if len(f.in) == 0 {
		return false
	}
	if f.in[0] == b_STM_SYNC {
		f.in = f.in[1:]
		f.syncs++
		f.out = append(f.out, f.syncReply)
		return true
	}

	hdr, ok := f.take(2)
	if !ok {
		return false
	}
	if hdr[1] != ^hdr[0] {
		f.nack()
		return true
	}

	c := Command(hdr[0])
	f.log = append(f.log, c)

	switch c {
	case CommandGet:
		f.ack()
		f.out = append(f.out, byte(len(f.commands)), f.protocol)
		for _, c := range f.commands {
			f.out = append(f.out, byte(c))
		}
		f.ack()
	case CommandGetVersion:
		f.ack()
		f.out = append(f.out, f.version, 0x00, 0x00)
		f.ack()
	case CommandGetID:
		f.ack()
		f.out = append(f.out, 0x01)
		f.out = binary.BigEndian.AppendUint16(f.out, f.pid)
		f.ack()
	case CommandReadMemory:
		f.ack()
		f.step = f.address(f.readLength)
	case CommandWriteMemory:
		f.ack()
		f.step = f.address(f.writeData)
	case CommandGo:
		f.ack()
		f.step = f.address(func() bool {
			f.jumps = append(f.jumps, f.addr)
			return f.done()
		})
	case CommandErase:
		f.ack()
		f.step = f.erase
	case CommandExtendedErase:
		f.ack()
		f.step = f.extendedErase
	case CommandWriteUnprotect:
		f.ack()
		f.ack()
	default:
		f.nack()
	}
	return true
}

// address parses an address frame and continues with next once it is ACK'd
func (f *fakeBootloader) address(next func() bool) func() bool {
	return func() bool {
		bs, ok := f.take(5)
		if !ok {
			return false
		}
		if Checksum(bs[:4]) != bs[4] {
			f.nack()
			return f.done()
		}
		f.addr = binary.BigEndian.Uint32(bs)
		f.ack()
		f.step = next
		return true
	}
}

func (f *fakeBootloader) readLength() bool {
	bs, ok := f.take(2)
	if !ok {
		return false
	}
	if bs[1] != ^bs[0] {
		f.nack()
		return f.done()
	}

	n := int(bs[0]) + 1
	f.ack()
	for i := 0; i < n; i++ {
		a := f.addr + uint32(i)
		b, ok := f.mem[a]
		if !ok {
			b = 0xff
		}
		if c, ok := f.corrupt[a]; ok {
			b = c
		}
		f.out = append(f.out, b)
	}
	f.reads = append(f.reads, memOp{addr: f.addr, n: n})
	return f.done()
}

func (f *fakeBootloader) writeData() bool {
	if len(f.in) < 1 {
		return false
	}
	n := int(f.in[0]) + 1
	bs, ok := f.take(n + 2)
	if !ok {
		return false
	}
	if Checksum(bs[:n+1]) != bs[n+1] {
		f.nack()
		return f.done()
	}

	for i, b := range bs[1 : n+1] {
		f.mem[f.addr+uint32(i)] = b
	}
	f.writes = append(f.writes, memOp{addr: f.addr, n: n})
	f.ack()
	return f.done()
}

func (f *fakeBootloader) erase() bool {
	if len(f.in) < 1 {
		return false
	}

	if f.in[0] == 0xff {
		bs, ok := f.take(2)
		if !ok {
			return false
		}
		if bs[1] != 0x00 {
			f.nack()
			return f.done()
		}
		f.globalErases = append(f.globalErases, BankGlobal)
		f.mem = map[uint32]byte{}
		f.ack()
		return f.done()
	}

	n := int(f.in[0]) + 1
	bs, ok := f.take(n + 2)
	if !ok {
		return false
	}
	if Checksum(bs[:n+1]) != bs[n+1] {
		f.nack()
		return f.done()
	}

	pages := make([]uint16, 0, n)
	for _, p := range bs[1 : n+1] {
		pages = append(pages, uint16(p))
	}
	f.erasePages(pages)
	f.ack()
	return f.done()
}

func (f *fakeBootloader) extendedErase() bool {
	if len(f.in) < 2 {
		return false
	}

	n := binary.BigEndian.Uint16(f.in)
	if n >= 0xfff0 {
		bs, ok := f.take(3)
		if !ok {
			return false
		}
		switch n {
		case 0xffff:
			f.globalErases = append(f.globalErases, BankGlobal)
		case 0xfffe:
			f.globalErases = append(f.globalErases, Bank1)
		case 0xfffd:
			f.globalErases = append(f.globalErases, Bank2)
		}
		if Checksum(bs[:2]) != bs[2] {
			f.nack()
			return f.done()
		}
		f.ack()
		return f.done()
	}

	count := int(n)
	bs, ok := f.take(2 + 2*count + 1)
	if !ok {
		return false
	}
	if Checksum(bs[:len(bs)-1]) != bs[len(bs)-1] {
		f.nack()
		return f.done()
	}

	pages := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		pages = append(pages, binary.BigEndian.Uint16(bs[2+2*i:]))
	}
	f.erasePages(pages)
	f.ack()
	return f.done()
}

func (f *fakeBootloader) erasePages(pages []uint16) {
	f.erased = append(f.erased, pages)
	for _, p := range pages {
		start := f.base + uint32(p)*f.pageSize
		for a := start; a < start+f.pageSize; a++ {
			delete(f.mem, a)
		}
	}
}
