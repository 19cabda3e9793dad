package flash

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const b_STM_SYNC byte = 0x7f

// MaxErasePageCount is the largest number of pages a standard erase accepts
const MaxErasePageCount = 255

// MaxExtendedErasePageCount is the largest number of pages an extended erase
// accepts. Counts from 0xfff0 up are the bank erase codes.
const MaxExtendedErasePageCount = 0xffef

// MaxTransferSize is the largest block moved by a single read or write memory
// command
const MaxTransferSize = 256

// Stream is the byte transport a Session talks over. Write must write all of
// p or return an error, ReadExact must fill p or return an error once its
// timeout has elapsed, and Flush blocks until written data has left the host.
type Stream interface {
	Write(p []byte) (int, error)
	ReadExact(p []byte) error
	Flush() error
}

// Session is a conversation with a STM32 system memory bootloader. It owns
// its Stream and keeps exactly one command in flight, so it must not be used
// from more than one goroutine.
type Session struct {
	stream Stream
	hook   Hook

	protocolVersion Version
}

// NewSession will wrap the stream in a session. The bootloader must already be
// synchronized, see Initialize. A nil hook logs to the standard logrus logger.
func NewSession(stream Stream, hook Hook) *Session {
	if hook == nil {
		hook = LogHook(logrus.StandardLogger())
	}
	return &Session{stream: stream, hook: hook}
}

// Initialize will send the sync byte so the bootloader can detect the baud
// rate. It must be done once after each reset of the chip; the single byte
// answered is ignored because some bootloaders reply with a NACK when they are
// already synchronized.
func (s *Session) Initialize() error {
	if err := s.write([]byte{b_STM_SYNC}); err != nil {
		return errors.Wrap(err, "could not send sync byte")
	}
	bs, err := s.readN(1)
	if err != nil {
		return errors.Wrap(err, "no reply to sync byte")
	}
	s.emit(Event{Kind: EventSync, Bytes: bs})
	return nil
}

// ProtocolVersion returns the version reported by the last GetCommands call
func (s *Session) ProtocolVersion() Version {
	return s.protocolVersion
}

func (s *Session) emit(e Event) {
	s.hook(e)
}

// write will write all of bs to the stream
func (s *Session) write(bs []byte) error {
	n, err := s.stream.Write(bs)
	if err != nil {
		return err
	}
	if n != len(bs) {
		return io.ErrShortWrite
	}
	s.emit(Event{Kind: EventTx, Bytes: bs})
	return nil
}

// writeFrame will write bs and flush it out of the host
func (s *Session) writeFrame(bs []byte) error {
	if err := s.write(bs); err != nil {
		return err
	}
	return s.stream.Flush()
}

// readInto will fill bs from the stream
func (s *Session) readInto(bs []byte) error {
	if err := s.stream.ReadExact(bs); err != nil {
		return err
	}
	s.emit(Event{Kind: EventRx, Bytes: bs})
	return nil
}

// readN will read exactly n bytes
func (s *Session) readN(n int) ([]byte, error) {
	bs := make([]byte, n)
	if err := s.readInto(bs); err != nil {
		return nil, err
	}
	return bs, nil
}

func (s *Session) readByte() (byte, error) {
	bs, err := s.readN(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// readAck reads the pending byte and returns nil for an ACK, ErrNack for a
// NACK and an InvalidResponseError for anything else
func (s *Session) readAck(c Command) error {
	b, err := s.readByte()
	if err != nil {
		return err
	}

	r, err := DecodeResponse(b)
	if err != nil {
		return err
	}
	if r == ResponseNack {
		s.emit(Event{Kind: EventNack, Command: c})
		return ErrNack
	}

	s.emit(Event{Kind: EventAck, Command: c})
	return nil
}

// execCmd will send the command header and check that it is ACK'd
func (s *Session) execCmd(c Command) error {
	hdr := EncodeCommand(c)
	s.emit(Event{Kind: EventCommand, Command: c})
	if err := s.write(hdr[:]); err != nil {
		return err
	}
	return s.readAck(c)
}

// readWithLength will read the next bytes of a message prefixed by a single
// byte holding the payload length minus one
func (s *Session) readWithLength() ([]byte, error) {
	n, err := s.readByte()
	if err != nil {
		return nil, errors.Wrap(err, "could not get length from stm microcontroller")
	}
	return s.readN(int(n) + 1)
}

// writeAddress will send a big-endian address with its checksum and wait for
// it to be ACK'd
func (s *Session) writeAddress(c Command, addr uint32) error {
	if err := s.writeFrame(withChecksum(addressBytes(addr))); err != nil {
		return errors.Wrap(err, "err writing addr")
	}
	return errors.Wrap(s.readAck(c), "addr ack fail")
}
