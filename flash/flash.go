package flash

import (
	"os"

	"github.com/pkg/errors"
)

// FlashOptions describes the flash layout of the target and how an image is
// flashed. Zero values fall back to the defaults, so a BaseAddress of 0 means
// DefaultBaseAddress and flash mapped at address 0 cannot be described here.
type FlashOptions struct {
	BaseAddress uint32
	PageSize    uint32
	SkipVerify  bool
}

func (o FlashOptions) baseAddress() uint32 {
	if o.BaseAddress != 0 {
		return o.BaseAddress
	}
	return DefaultBaseAddress
}

func (o FlashOptions) pageSize() uint32 {
	if o.PageSize != 0 {
		return o.PageSize
	}
	return DefaultPageSize
}

// Flash will erase the pages covered by image at addr, then write the image
// in MaxTransferSize chunks, reading each chunk back right after it is written
// unless verification is skipped. The first failure aborts the sequence and
// nothing is retried.
func (s *Session) Flash(addr uint32, image []byte, opts FlashOptions) error {
	if len(image) == 0 {
		return nil
	}

	ec, err := s.GetEraseCommand()
	if err != nil {
		return errors.Wrap(err, "could not determine erase command")
	}

	pages, err := PagesForRange(opts.baseAddress(), opts.pageSize(), addr, len(image))
	if err != nil {
		return errors.Wrap(err, "could not compute pages to erase")
	}
	plan, err := PlanErase(ec, pages)
	if err != nil {
		return errors.Wrap(err, "could not plan erase")
	}
	if err := s.Erase(plan); err != nil {
		return errors.Wrap(err, "could not erase memory")
	}

	var readback []byte
	if !opts.SkipVerify {
		readback = make([]byte, MaxTransferSize)
	}

	nseg := int(ceilDiv(uint(len(image)), MaxTransferSize))
	for i := 0; i < nseg; i++ {
		offset := i * MaxTransferSize
		segAddr := addr + uint32(offset)
		chunk := image[offset:min(len(image), offset+MaxTransferSize)]

		if err := s.WriteMemory(segAddr, chunk); err != nil {
			return errors.Wrapf(err, "could not write segment %d", i)
		}
		s.emit(Event{Kind: EventChunkWritten, Address: segAddr, Length: len(chunk), Total: len(image)})

		if opts.SkipVerify {
			continue
		}
		if err := s.verify(segAddr, chunk, readback[:len(chunk)]); err != nil {
			return errors.Wrapf(err, "could not verify segment %d", i)
		}
		s.emit(Event{Kind: EventChunkVerified, Address: segAddr, Length: len(chunk), Total: len(image)})
	}

	return nil
}

// verify will read back len(want) bytes at addr into buf and compare them
func (s *Session) verify(addr uint32, want, buf []byte) error {
	if err := s.ReadMemory(addr, buf); err != nil {
		return err
	}
	for i := range want {
		if want[i] != buf[i] {
			err := &VerificationError{Address: addr, Offset: i, Expected: want[i], Actual: buf[i]}
			s.emit(Event{Kind: EventVerifyMismatch, Address: addr, Length: len(want), Err: err})
			return err
		}
	}
	return nil
}

// FlashPayloadFromFile will flash the requested file to the flash memory at the
// provided address
func (mc *Microcontroller) FlashPayloadFromFile(filePath string, addr uint32) error {
	bs, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return mc.FlashPayload(bs, addr)
}

// FlashPayload will flash the payload provided to the flash at the provided
// address
func (mc *Microcontroller) FlashPayload(bs []byte, addr uint32) error {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return err
		}
		defer mc.Close()
	}

	return mc.session.Flash(addr, bs, FlashOptions{
		BaseAddress: mc.BaseAddress(),
		PageSize:    mc.PageSize(),
		SkipVerify:  mc.config.SkipVerify,
	})
}
