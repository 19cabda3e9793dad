package flash

import (
	"math"

	"github.com/pkg/errors"
)

// ErasePlan is the set of erase calls needed to clear a range of pages with
// the erase command a bootloader supports
type ErasePlan struct {
	Command EraseCommand

	// Standard holds one entry per standard erase call
	Standard [][]byte

	// Extended holds the pages of the single extended erase call
	Extended []uint16
}

// Pages returns the number of pages the plan erases
func (p ErasePlan) Pages() int {
	if p.Command == EraseExtended {
		return len(p.Extended)
	}
	n := 0
	for _, c := range p.Standard {
		n += len(c)
	}
	return n
}

// PagesForRange will return the indexes of the flash pages touched by length
// bytes written at addr, counting pages of pageSize bytes from base
func PagesForRange(base, pageSize, addr uint32, length int) ([]uint32, error) {
	if addr < base {
		return nil, &AddressError{Address: addr, Base: base}
	}
	if pageSize == 0 {
		return nil, errors.New("page size must be positive")
	}
	if length < 0 {
		return nil, errors.Errorf("negative length %d", length)
	}

	start := (addr - base) / pageSize
	count := ceilDiv(uint64(length), uint64(pageSize))
	if count > 0 && uint64(start)+count-1 > math.MaxUint32 {
		return nil, errors.Errorf("range of %d bytes at 0x%08X overflows the address space", length, addr)
	}

	pages := make([]uint32, 0, count)
	for i := uint64(0); i < count; i++ {
		pages = append(pages, start+uint32(i))
	}
	return pages, nil
}

// PlanErase will convert page indexes into the wire form of the given erase
// command. Standard erase addresses at most page 255 and is split into calls
// of at most MaxErasePageCount pages; extended erase addresses up to page
// 65535 in a single call.
func PlanErase(c EraseCommand, pages []uint32) (ErasePlan, error) {
	plan := ErasePlan{Command: c}

	switch c {
	case EraseStandard:
		bs := make([]byte, 0, len(pages))
		for _, p := range pages {
			if p > math.MaxUint8 {
				return ErasePlan{}, &PageRangeError{Page: p, Max: math.MaxUint8, Command: c}
			}
			bs = append(bs, byte(p))
		}
		for len(bs) > 0 {
			n := min(len(bs), MaxErasePageCount)
			plan.Standard = append(plan.Standard, bs[:n])
			bs = bs[n:]
		}

	case EraseExtended:
		if len(pages) > MaxExtendedErasePageCount {
			return ErasePlan{}, &ErasePageCountError{Count: len(pages), Max: MaxExtendedErasePageCount}
		}
		plan.Extended = make([]uint16, 0, len(pages))
		for _, p := range pages {
			if p > math.MaxUint16 {
				return ErasePlan{}, &PageRangeError{Page: p, Max: math.MaxUint16, Command: c}
			}
			plan.Extended = append(plan.Extended, uint16(p))
		}

	default:
		return ErasePlan{}, ErrUnsupported
	}

	return plan, nil
}

// Erase will issue the erase calls of the plan in order
func (s *Session) Erase(plan ErasePlan) error {
	s.emit(Event{Kind: EventErasePlanned, Length: plan.Pages()})

	if plan.Command == EraseExtended {
		return s.ExtendedErase(plan.Extended)
	}

	for i, pages := range plan.Standard {
		if err := s.StandardErase(pages); err != nil {
			return errors.Wrapf(err, "could not erase page group %d", i)
		}
	}
	return nil
}
