package flash

import (
	"fmt"
	"time"

	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var DefaultBaud = 57600
var DefaultTTY = "/dev/ttyUSB0"
var DefaultTimeout = 1 * time.Second

const DefaultBaseAddress uint32 = 0x08000000
const DefaultPageSize uint32 = 128

// Config defines configuration for communicating and flashing the
// microcontroller
type Config struct {
	TTY            string
	BootloaderBaud int
	Timeout        time.Duration

	// SkipInitialization reuses a bootloader that was already synchronized at
	// the same baud rate
	SkipInitialization bool

	// BaseAddress of 0 selects DefaultBaseAddress, see FlashOptions
	BaseAddress uint32
	PageSize    uint32
	SkipVerify  bool

	// GPIO lines driving BOOT0, BOOT1 and the power switch. Boot mode is only
	// controlled when all three are set.
	Boot0GPIO int
	Boot1GPIO int
	PowerGPIO int

	// Hook receives protocol events, defaults to logging through logrus
	Hook Hook
}

// Microcontroller represents a STM32 chip reachable through its UART
// bootloader
type Microcontroller struct {
	config *Config

	pins *bootPins

	port    *Port
	session *Session

	identity string
}

// Info is what the bootloader reports about itself
type Info struct {
	ProductID       uint16
	Version         Version
	ProtocolVersion Version
	Commands        []Command
}

// NewMicrocontroller will create a new reference to a particular chip
func NewMicrocontroller(c *Config) (*Microcontroller, error) {
	if c == nil {
		c = &Config{}
	}

	mc := &Microcontroller{config: c}

	if c.Boot0GPIO > 0 && c.Boot1GPIO > 0 && c.PowerGPIO > 0 {
		pins, err := setupPins(c)
		if err != nil {
			return nil, errors.Wrap(err, "could not setup pins")
		}
		mc.pins = pins
	}

	return mc, nil
}

// Open will connect to the bootloader, power cycling the chip into it first
// when boot pins are configured
func (mc *Microcontroller) Open() (err error) {
	if mc.IsOpen() {
		return nil
	}

	if mc.pins != nil {
		mc.pins.enterSTBL()
	}

	mc.port, err = OpenPort(mc.TTY(), mc.BaudRate(), mc.Timeout())
	if err != nil {
		mc.port = nil
		if mc.pins != nil {
			mc.pins.exitSTBL()
		}
		return err
	}

	hook := mc.config.Hook
	if hook == nil {
		hook = LogHook(logrus.StandardLogger())
	}
	mc.session = NewSession(mc.port, hook)

	if !mc.config.SkipInitialization {
		if err = mc.session.Initialize(); err != nil {
			mc.Close()
			return errors.Wrap(err, "could not init stm chip")
		}
	}

	logrus.Debug("mcu open")

	return nil
}

// Close will close the connection and leave the bootloader when boot pins
// are configured
func (mc *Microcontroller) Close() error {
	if mc.pins != nil {
		mc.pins.exitSTBL()
	}

	if mc.port != nil {
		mc.port.Close()
		mc.port = nil
	}
	mc.session = nil

	logrus.Debug("mcu close")

	return nil
}

func (mc *Microcontroller) IsOpen() bool {
	return mc.session != nil
}

// Session returns the open bootloader session, or nil when closed
func (mc *Microcontroller) Session() *Session {
	return mc.session
}

// Identify will report back a unique string with the ID of the chip
func (mc *Microcontroller) Identify() (string, error) {
	if mc.identity != "" {
		return mc.identity, nil
	}

	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return "", err
		}
		defer mc.Close()
	}

	pid, err := mc.session.GetID()
	if err != nil {
		return "", err
	}
	mc.identity = fmt.Sprintf("STM_%04X", pid)

	return mc.identity, nil
}

// Info will query the bootloader version, command set and product ID
func (mc *Microcontroller) Info() (*Info, error) {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return nil, err
		}
		defer mc.Close()
	}

	return mc.session.ReadInfo()
}

// ReadInfo will query the bootloader version, command set and product ID
func (s *Session) ReadInfo() (*Info, error) {
	v, err := s.GetVersion()
	if err != nil {
		return nil, errors.Wrap(err, "could not get version")
	}
	cmds, err := s.GetCommands()
	if err != nil {
		return nil, errors.Wrap(err, "could not get commands")
	}
	pid, err := s.GetID()
	if err != nil {
		return nil, errors.Wrap(err, "could not get product id")
	}

	return &Info{
		ProductID:       pid,
		Version:         v,
		ProtocolVersion: s.ProtocolVersion(),
		Commands:        cmds,
	}, nil
}

// Erase will erase the whole flash, or one bank of it on chips using the
// extended erase command
func (mc *Microcontroller) Erase(bank BankErase) error {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return err
		}
		defer mc.Close()
	}

	return mc.session.GlobalErase(bank)
}

// GlobalErase will erase the whole flash with whichever erase command the
// bootloader supports. Single banks can only be selected with extended erase.
func (s *Session) GlobalErase(bank BankErase) error {
	ec, err := s.GetEraseCommand()
	if err != nil {
		return errors.Wrap(err, "could not determine erase command")
	}

	if ec == EraseExtended {
		return s.ExtendedGlobalErase(bank)
	}
	if bank != BankGlobal {
		return errors.Wrapf(ErrUnsupported, "standard erase cannot target %s", bank)
	}
	return s.StandardGlobalErase()
}

// Go will start the code at addr. The bootloader stops answering afterwards,
// so the connection is closed.
func (mc *Microcontroller) Go(addr uint32) error {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return err
		}
	}
	defer mc.Close()

	return mc.session.Go(addr)
}

// Unprotect will remove write protection from the flash and synchronize with
// the bootloader again once the chip has reset
func (mc *Microcontroller) Unprotect() error {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return err
		}
		defer mc.Close()
	}

	if err := mc.session.WriteUnprotect(); err != nil {
		return errors.Wrap(err, "could not write unprotect")
	}

	mc.port.Discard()
	return errors.Wrap(mc.session.Initialize(), "could not resync after unprotect")
}

// TTY will return the TTY that will be used
func (mc *Microcontroller) TTY() string {
	if mc.config.TTY != "" {
		return mc.config.TTY
	}
	return DefaultTTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (mc *Microcontroller) BaudRate() int {
	if mc.config.BootloaderBaud > 0 {
		return mc.config.BootloaderBaud
	}
	return DefaultBaud
}

// Timeout will return how long a read waits for the bootloader
func (mc *Microcontroller) Timeout() time.Duration {
	if mc.config.Timeout > 0 {
		return mc.config.Timeout
	}
	return DefaultTimeout
}

// BaseAddress will return the address of the first flash page
func (mc *Microcontroller) BaseAddress() uint32 {
	if mc.config.BaseAddress != 0 {
		return mc.config.BaseAddress
	}
	return DefaultBaseAddress
}

// PageSize will return the size of a flash page in bytes
func (mc *Microcontroller) PageSize() uint32 {
	if mc.config.PageSize != 0 {
		return mc.config.PageSize
	}
	return DefaultPageSize
}

// Release will hand the boot GPIO lines back to the system
func (mc *Microcontroller) Release() {
	if mc.pins != nil {
		mc.pins.cleanup()
		mc.pins = nil
	}
}

// Reset will force a power cycle on the microcontroller into its application
func (mc *Microcontroller) Reset() {
	if mc.pins != nil {
		mc.pins.exitSTBL()
	}
}

// bootPins are the GPIO lines used to select the boot mode of the chip
type bootPins struct {
	power gpio.Pin
	boot0 gpio.Pin
	boot1 gpio.Pin
}

func setupPins(c *Config) (p *bootPins, err error) {
	p = &bootPins{}
	p.power, err = gpio.NewOutput(uint(c.PowerGPIO), true)
	if err != nil {
		return nil, err
	}
	p.boot0, err = gpio.NewOutput(uint(c.Boot0GPIO), false)
	if err != nil {
		return nil, err
	}
	p.boot1, err = gpio.NewOutput(uint(c.Boot1GPIO), false)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// enterSTBL will execute the GPIO sequence to enter the STM bootloader
func (p *bootPins) enterSTBL() {
	p.power.Low()

	// BOOT0 high and BOOT1 low when reapplying PWR will go into the bootloader
	// mode on STM32 chips
	p.boot0.High()
	p.boot1.Low()
	time.Sleep(10 * time.Millisecond)
	p.power.High()
	time.Sleep(10 * time.Millisecond)
}

// exitSTBL will execute the GPIO sequence to exit the STM bootloader
func (p *bootPins) exitSTBL() {
	p.power.Low()
	p.boot0.Low()
	p.boot1.Low()
	time.Sleep(10 * time.Millisecond)
	p.power.High()
	time.Sleep(10 * time.Millisecond)
}

// cleanup resets the pins to a running state
func (p *bootPins) cleanup() {
	p.boot0.Cleanup()
	p.boot1.Cleanup()
	p.power.Cleanup()
}
