package flash

import (
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// rxPollInterval bounds how long the receive loop blocks before checking
// whether the port was closed
const rxPollInterval = 10 * time.Millisecond

// Port is a Stream over a serial port configured for the bootloader: 8 data
// bits, even parity and one stop bit
type Port struct {
	port    serial.Port
	timeout time.Duration

	rx     chan byte
	done   chan struct{}
	failed chan struct{}
	rxErr  error

	closeOnce sync.Once
}

// OpenPort will open the tty at the given baud rate. Reads fail with
// ErrTimeout when the bootloader stays silent for longer than timeout.
func OpenPort(tty string, baud int, timeout time.Duration) (*Port, error) {
	sp, err := serial.Open(tty, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not open serial")
	}
	if err := sp.SetReadTimeout(rxPollInterval); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "could not set read timeout")
	}

	logrus.Debugf("opened %s %d 8E1", tty, baud)

	return newPort(sp, timeout), nil
}

// newPort starts the receive loop over an already configured port
func newPort(sp serial.Port, timeout time.Duration) *Port {
	p := &Port{
		port:    sp,
		timeout: timeout,
		rx:      make(chan byte, 512),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}
	go p.rxLoop()
	return p
}

// rxLoop will read from the port until it is closed and write the incoming
// bytes to the rx chan
func (p *Port) rxLoop() {
	buf := make([]byte, 64)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, err := p.port.Read(buf)
		if err != nil {
			if !p.isClosing(err) {
				logrus.Error("rx err: ", err.Error())
				p.rxErr = err
				close(p.failed)
			}
			return
		}

		for _, b := range buf[:n] {
			select {
			case p.rx <- b:
			case <-p.done:
				return
			}
		}
	}
}

// isClosing reports whether err only complains about the port being closed
func (p *Port) isClosing(err error) bool {
	select {
	case <-p.done:
		return true
	default:
	}

	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return true
	}
	return errors.Is(err, syscall.EBADF)
}

// Write will write the specified bytes to the microcontroller
func (p *Port) Write(bs []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	return p.port.Write(bs)
}

// ReadExact will fill bs from the receive loop, failing once the timeout has
// elapsed without all bytes arriving
func (p *Port) ReadExact(bs []byte) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	for i := range bs {
		select {
		case b := <-p.rx:
			bs[i] = b
		case <-timer.C:
			return errors.Wrapf(ErrTimeout, "got %d of %d bytes", i, len(bs))
		case <-p.failed:
			return errors.Wrap(p.rxErr, "serial read failed")
		case <-p.done:
			return ErrClosed
		}
	}

	return nil
}

// Flush will block until all written bytes have been transmitted
func (p *Port) Flush() error {
	return p.port.Drain()
}

// Discard will drop any bytes received but not yet read
func (p *Port) Discard() {
	for {
		select {
		case <-p.rx:
		default:
			return
		}
	}
}

// Close will stop the receive loop and close the port
func (p *Port) Close() (err error) {
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.port.Close()
	})
	return
}
