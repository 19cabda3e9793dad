package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrNack = errors.New("received nack from stm microcontroller")
var ErrUnsupported = errors.New("bootloader supports neither erase nor extended erase")
var ErrTimeout = errors.New("timed out reading from microcontroller")
var ErrClosed = errors.New("serial port is closed")

// InvalidResponseError is returned when a byte other than ACK or NACK arrives
// where a response was expected, or when a length field has an impossible value
type InvalidResponseError struct {
	Byte byte
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response from bootloader: 0x%02X", e.Byte)
}

// InvalidCommandError is returned when the bootloader reports a command byte
// that is not part of the protocol
type InvalidCommandError struct {
	Byte byte
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid bootloader command: 0x%02X", e.Byte)
}

// ErasePageCountError is returned when a single erase call is asked to erase
// more pages than the command can encode
type ErasePageCountError struct {
	Count int
	Max   int
}

func (e *ErasePageCountError) Error() string {
	return fmt.Sprintf("erase command supports up to %d pages, got %d", e.Max, e.Count)
}

// WriteBytesCountError is returned when a read or write transfer exceeds the
// protocol limit
type WriteBytesCountError struct {
	Count int
}

func (e *WriteBytesCountError) Error() string {
	return fmt.Sprintf("memory transfers support up to %d bytes, got %d", MaxTransferSize, e.Count)
}

// PageRangeError is returned when a page index cannot be addressed by the
// selected erase command
type PageRangeError struct {
	Page    uint32
	Max     uint32
	Command EraseCommand
}

func (e *PageRangeError) Error() string {
	return fmt.Sprintf("page %d cannot be erased with %s erase, max page is %d", e.Page, e.Command, e.Max)
}

// AddressError is returned when a target address lies below the flash base
type AddressError struct {
	Address uint32
	Base    uint32
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("address 0x%08X is below flash base 0x%08X", e.Address, e.Base)
}

// VerificationError is returned when memory read back after a write does not
// match what was written
type VerificationError struct {
	Address  uint32
	Offset   int
	Expected byte
	Actual   byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed at 0x%08X (byte %d): expected 0x%02X, read 0x%02X",
		e.Address+uint32(e.Offset), e.Offset, e.Expected, e.Actual)
}
