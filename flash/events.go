package flash

import (
	"github.com/sirupsen/logrus"
)

// EventKind identifies what a session just did
type EventKind int

const (
	EventSync EventKind = iota
	EventCommand
	EventAck
	EventNack
	EventTx
	EventRx
	EventErasePlanned
	EventChunkWritten
	EventChunkVerified
	EventVerifyMismatch
)

var eventKindNames = [...]string{
	EventSync:           "sync",
	EventCommand:        "command",
	EventAck:            "ack",
	EventNack:           "nack",
	EventTx:             "tx",
	EventRx:             "rx",
	EventErasePlanned:   "erase_planned",
	EventChunkWritten:   "chunk_written",
	EventChunkVerified:  "chunk_verified",
	EventVerifyMismatch: "verify_mismatch",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is emitted by a Session as it talks to the bootloader. Only the
// fields that make sense for the kind are set.
type Event struct {
	Kind    EventKind
	Command Command
	Address uint32
	Length  int
	Total   int
	Bytes   []byte
	Err     error
}

// Hook receives session events. It is called synchronously from the protocol
// code and must not retain Bytes.
type Hook func(Event)

// Hooks combines several hooks into one, skipping nil entries
func Hooks(hs ...Hook) Hook {
	return func(e Event) {
		for _, h := range hs {
			if h != nil {
				h(e)
			}
		}
	}
}

// LogHook will log session events to the provided logger. Traffic is logged
// at debug level and NACKs or verification failures as warnings.
func LogHook(log logrus.FieldLogger) Hook {
	return func(e Event) {
		switch e.Kind {
		case EventSync:
			log.Debugf("mcu sync: %x", e.Bytes)
		case EventCommand:
			log.WithField("cmd", e.Command).Debug("mcu command")
		case EventAck:
			log.WithField("cmd", e.Command).Debug("mcu ack")
		case EventNack:
			log.WithField("cmd", e.Command).Warn("mcu nack")
		case EventTx:
			log.Debugf("mcu tx: %x", e.Bytes)
		case EventRx:
			log.Debugf("mcu rx: %x", e.Bytes)
		case EventErasePlanned:
			log.WithFields(logrus.Fields{"pages": e.Length}).Debug("erase planned")
		case EventChunkWritten:
			log.Debugf("wm: %d bytes @ %08x", e.Length, e.Address)
		case EventChunkVerified:
			log.Debugf("rm: %d bytes @ %08x verified", e.Length, e.Address)
		case EventVerifyMismatch:
			log.WithError(e.Err).Warnf("verify mismatch @ %08x", e.Address)
		}
	}
}
