package flash

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// addressBytes returns addr in the big-endian form used on the wire
func addressBytes(addr uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, addr)
}

// GetVersion will return the bootloader protocol version
func (s *Session) GetVersion() (Version, error) {
	if err := s.execCmd(CommandGetVersion); err != nil {
		return 0, errors.Wrap(err, "err exec get version")
	}

	v, err := s.readByte()
	if err != nil {
		return 0, errors.Wrap(err, "could not read version byte")
	}

	// two option bytes kept for compatibility with old bootloaders
	if _, err := s.readN(2); err != nil {
		return 0, errors.Wrap(err, "could not read option bytes")
	}

	if err := s.readAck(CommandGetVersion); err != nil {
		return 0, errors.Wrap(err, "get version ack fail")
	}

	return Version(v), nil
}

// GetID will return the product ID of the microcontroller
func (s *Session) GetID() (uint16, error) {
	if err := s.execCmd(CommandGetID); err != nil {
		return 0, errors.Wrap(err, "err exec get id")
	}

	n, err := s.readByte()
	if err != nil {
		return 0, errors.Wrap(err, "could not read id length")
	}
	// the product id is always two bytes, sent as N-1
	if n != 1 {
		return 0, errors.Wrap(&InvalidResponseError{Byte: n}, "unexpected id length")
	}

	bs, err := s.readN(2)
	if err != nil {
		return 0, errors.Wrap(err, "could not read id")
	}

	if err := s.readAck(CommandGetID); err != nil {
		return 0, errors.Wrap(err, "get id ack fail")
	}

	return binary.BigEndian.Uint16(bs), nil
}

// GetCommands will return the commands supported by the bootloader in the
// order it reports them. The protocol version sent along is kept, see
// ProtocolVersion.
func (s *Session) GetCommands() ([]Command, error) {
	if err := s.execCmd(CommandGet); err != nil {
		return nil, errors.Wrap(err, "err exec get")
	}

	bs, err := s.readWithLength()
	if err != nil {
		return nil, errors.Wrap(err, "could not read command list")
	}

	if err := s.readAck(CommandGet); err != nil {
		return nil, errors.Wrap(err, "get ack fail")
	}

	cmds := make([]Command, 0, len(bs)-1)
	for _, b := range bs[1:] {
		c, err := DecodeCommand(b)
		if err != nil {
			return nil, errors.Wrap(err, "bootloader returned an unknown command")
		}
		cmds = append(cmds, c)
	}

	s.protocolVersion = Version(bs[0])

	return cmds, nil
}

// GetEraseCommand will find out which erase form the bootloader supports
func (s *Session) GetEraseCommand() (EraseCommand, error) {
	cmds, err := s.GetCommands()
	if err != nil {
		return 0, err
	}

	switch {
	case slices.Contains(cmds, CommandErase):
		return EraseStandard, nil
	case slices.Contains(cmds, CommandExtendedErase):
		return EraseExtended, nil
	}
	return 0, ErrUnsupported
}

// StandardErase will erase the listed pages with the one byte page form of the
// erase command
func (s *Session) StandardErase(pages []byte) error {
	if len(pages) == 0 {
		return nil
	}
	if len(pages) > MaxErasePageCount {
		return &ErasePageCountError{Count: len(pages), Max: MaxErasePageCount}
	}

	if err := s.execCmd(CommandErase); err != nil {
		return errors.Wrap(err, "err exec erase")
	}

	buf := make([]byte, 0, len(pages)+2)
	buf = append(buf, byte(len(pages)-1))
	buf = append(buf, pages...)
	if err := s.writeFrame(withChecksum(buf)); err != nil {
		return errors.Wrap(err, "err writing pages")
	}

	return errors.Wrap(s.readAck(CommandErase), "erase ack fail")
}

// StandardGlobalErase will request that all flash memory be erased
func (s *Session) StandardGlobalErase() error {
	if err := s.execCmd(CommandErase); err != nil {
		return errors.Wrap(err, "err exec erase")
	}

	if err := s.writeFrame([]byte{0xff, 0x00}); err != nil {
		return err
	}

	return errors.Wrap(s.readAck(CommandErase), "global erase ack fail")
}

// ExtendedErase will erase the listed pages with the two byte page form of the
// erase command
func (s *Session) ExtendedErase(pages []uint16) error {
	if len(pages) == 0 {
		return nil
	}
	if len(pages) > MaxExtendedErasePageCount {
		return &ErasePageCountError{Count: len(pages), Max: MaxExtendedErasePageCount}
	}

	if err := s.execCmd(CommandExtendedErase); err != nil {
		return errors.Wrap(err, "err exec extended erase")
	}

	buf := make([]byte, 0, 2*(len(pages)+1)+1)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(pages)))
	for _, p := range pages {
		buf = binary.BigEndian.AppendUint16(buf, p)
	}
	if err := s.writeFrame(withChecksum(buf)); err != nil {
		return errors.Wrap(err, "err writing pages")
	}

	return errors.Wrap(s.readAck(CommandExtendedErase), "extended erase ack fail")
}

// ExtendedGlobalErase will erase the whole flash or a single bank with the
// extended erase command
func (s *Session) ExtendedGlobalErase(bank BankErase) error {
	if err := s.execCmd(CommandExtendedErase); err != nil {
		return errors.Wrap(err, "err exec extended erase")
	}

	if err := s.writeFrame(bank.sentinel()); err != nil {
		return err
	}

	return errors.Wrapf(s.readAck(CommandExtendedErase), "%s erase ack fail", bank)
}

// WriteMemory will attempt to write the requested data at the provided
// address in memory. At most MaxTransferSize bytes are written per call.
func (s *Session) WriteMemory(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > MaxTransferSize {
		return &WriteBytesCountError{Count: len(data)}
	}

	if err := s.execCmd(CommandWriteMemory); err != nil {
		return errors.Wrap(err, "err exec write mem")
	}

	if err := s.writeAddress(CommandWriteMemory, addr); err != nil {
		return err
	}

	// write the data with length and checksum
	if err := s.writeWithNAndChecksum(data); err != nil {
		return errors.Wrap(err, "err writing data")
	}

	return errors.Wrap(s.readAck(CommandWriteMemory), "err ack after write data")
}

// ReadMemory will fill dst with memory starting at addr. At most
// MaxTransferSize bytes are read per call.
func (s *Session) ReadMemory(addr uint32, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if len(dst) > MaxTransferSize {
		return &WriteBytesCountError{Count: len(dst)}
	}

	if err := s.execCmd(CommandReadMemory); err != nil {
		return errors.Wrap(err, "err exec read mem")
	}

	if err := s.writeAddress(CommandReadMemory, addr); err != nil {
		return err
	}

	// the length is protected by its complement rather than a checksum
	n := byte(len(dst) - 1)
	if err := s.writeFrame([]byte{n, ^n}); err != nil {
		return errors.Wrap(err, "err writing length")
	}
	// the length frame is ACK'd before the data arrives, and no ACK follows
	// the data
	if err := s.readAck(CommandReadMemory); err != nil {
		return errors.Wrap(err, "length ack fail")
	}

	return errors.Wrap(s.readInto(dst), "err reading data")
}

// Go will make the bootloader jump to the code at addr
func (s *Session) Go(addr uint32) error {
	if err := s.execCmd(CommandGo); err != nil {
		return errors.Wrap(err, "err exec go")
	}
	return s.writeAddress(CommandGo, addr)
}

// WriteUnprotect will set flash to be unprotected so that we can write it.
// The chip resets afterwards and must be initialized again.
func (s *Session) WriteUnprotect() error {
	if err := s.execCmd(CommandWriteUnprotect); err != nil {
		return errors.Wrap(err, "err exec write unprotect")
	}
	// this does ACK twice, once for the command and once for the unprotect
	return errors.Wrap(s.readAck(CommandWriteUnprotect), "write unprotect ack fail")
}

// writeWithNAndChecksum will write the data prefixed with the length in a
// single byte and suffixed with the checksum of the entire message
func (s *Session) writeWithNAndChecksum(bs []byte) error {
	buf := make([]byte, 0, len(bs)+2)
	buf = append(buf, byte(len(bs)-1))
	buf = append(buf, bs...)
	return s.writeFrame(withChecksum(buf))
}
