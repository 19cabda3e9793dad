package flash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMicrocontrollerDefaults(t *testing.T) {
	mc, err := NewMicrocontroller(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultTTY, mc.TTY())
	assert.Equal(t, DefaultBaud, mc.BaudRate())
	assert.Equal(t, DefaultTimeout, mc.Timeout())
	assert.Equal(t, DefaultBaseAddress, mc.BaseAddress())
	assert.Equal(t, DefaultPageSize, mc.PageSize())
}

func TestMicrocontrollerConfig(t *testing.T) {
	mc, err := NewMicrocontroller(&Config{
		TTY:            "/dev/ttyAMA0",
		BootloaderBaud: 115200,
		Timeout:        250 * time.Millisecond,
		BaseAddress:    0x08004000,
		PageSize:       2048,
	})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", mc.TTY())
	assert.Equal(t, 115200, mc.BaudRate())
	assert.Equal(t, 250*time.Millisecond, mc.Timeout())
	assert.Equal(t, uint32(0x08004000), mc.BaseAddress())
	assert.Equal(t, uint32(2048), mc.PageSize())
}

func TestMicrocontrollerClosed(t *testing.T) {
	// a partial pin config leaves boot mode alone and never touches sysfs
	mc, err := NewMicrocontroller(&Config{Boot0GPIO: 17})
	require.NoError(t, err)

	assert.False(t, mc.IsOpen())
	assert.Nil(t, mc.Session())
	assert.NoError(t, mc.Close())
	mc.Reset()
	mc.Release()
}

func TestFlashPayloadFromMissingFile(t *testing.T) {
	mc, err := NewMicrocontroller(nil)
	require.NoError(t, err)

	assert.Error(t, mc.FlashPayloadFromFile("/nonexistent/firmware.bin", DefaultBaseAddress))
}

func TestOpenKeepsExistingSession(t *testing.T) {
	mc, err := NewMicrocontroller(&Config{TTY: "/nonexistent/tty"})
	require.NoError(t, err)

	s := NewSession(newScriptStream(), nil)
	mc.session = s

	require.NoError(t, mc.Open())
	assert.Same(t, s, mc.Session())
}

func TestOpenFailureLeavesClosed(t *testing.T) {
	mc, err := NewMicrocontroller(&Config{TTY: "/nonexistent/tty"})
	require.NoError(t, err)

	assert.Error(t, mc.Open())
	assert.False(t, mc.IsOpen())
	assert.Nil(t, mc.port)
}

func TestFlashOptionsZeroBaseUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultBaseAddress, FlashOptions{}.baseAddress())
	assert.Equal(t, uint32(0x08004000), FlashOptions{BaseAddress: 0x08004000}.baseAddress())
	assert.Equal(t, DefaultPageSize, FlashOptions{}.pageSize())
}
