package flash

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagesForRange(t *testing.T) {
	tests := []struct {
		name   string
		addr   uint32
		length int
		want   []uint32
	}{
		{"300 bytes at base", 0x08000000, 300, []uint32{0, 1, 2}},
		{"exact page", 0x08000000, 128, []uint32{0}},
		{"one byte over", 0x08000000, 129, []uint32{0, 1}},
		{"offset start", 0x08000100, 256, []uint32{2, 3}},
		{"unaligned start", 0x08000040, 128, []uint32{0}},
		{"empty", 0x08000000, 0, []uint32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := PagesForRange(0x08000000, 128, tt.addr, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pages)
		})
	}
}

func TestPagesForRangeErrors(t *testing.T) {
	_, err := PagesForRange(0x08000000, 128, 0x07ffffff, 10)
	var ae *AddressError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, uint32(0x07ffffff), ae.Address)

	_, err = PagesForRange(0x08000000, 0, 0x08000000, 10)
	assert.Error(t, err)

	_, err = PagesForRange(0x08000000, 128, 0x08000000, -1)
	assert.Error(t, err)
}

func TestPlanEraseStandard(t *testing.T) {
	pages := make([]uint32, 256)
	for i := range pages {
		pages[i] = uint32(i)
	}

	plan, err := PlanErase(EraseStandard, pages)
	require.NoError(t, err)
	require.Len(t, plan.Standard, 2)
	assert.Len(t, plan.Standard[0], MaxErasePageCount)
	assert.Equal(t, []byte{0xff}, plan.Standard[1])
	assert.Equal(t, 256, plan.Pages())
	assert.Nil(t, plan.Extended)
}

func TestPlanEraseStandardPageRange(t *testing.T) {
	_, err := PlanErase(EraseStandard, []uint32{254, 255, 256})

	var pre *PageRangeError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, uint32(256), pre.Page)
	assert.Equal(t, uint32(255), pre.Max)
}

func TestPlanEraseExtended(t *testing.T) {
	plan, err := PlanErase(EraseExtended, []uint32{300, 301, 65535})
	require.NoError(t, err)
	assert.Equal(t, []uint16{300, 301, 65535}, plan.Extended)
	assert.Equal(t, 3, plan.Pages())

	_, err = PlanErase(EraseExtended, []uint32{65536})
	var pre *PageRangeError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, EraseExtended, pre.Command)
}

func TestPlanEraseEmpty(t *testing.T) {
	plan, err := PlanErase(EraseStandard, nil)
	require.NoError(t, err)
	assert.Zero(t, plan.Pages())
}

func TestSessionEraseRunsEveryGroup(t *testing.T) {
	pages := make([]uint32, 256)
	for i := range pages {
		pages[i] = uint32(i)
	}
	plan, err := PlanErase(EraseStandard, pages)
	require.NoError(t, err)

	bl := newFakeBootloader()
	bl.pageSize = 1
	require.NoError(t, newTestSession(bl).Erase(plan))
	require.Len(t, bl.erased, 2)
	assert.Len(t, bl.erased[0], 255)
	assert.Equal(t, []uint16{255}, bl.erased[1])
}
