package flash

import "fmt"

// Command is a bootloader command byte as defined by AN3155
type Command byte

const (
	CommandGet              Command = 0x00
	CommandGetVersion       Command = 0x01
	CommandGetID            Command = 0x02
	CommandReadMemory       Command = 0x11
	CommandGo               Command = 0x21
	CommandWriteMemory      Command = 0x31
	CommandErase            Command = 0x43
	CommandExtendedErase    Command = 0x44
	CommandSpecial          Command = 0x50
	CommandExtendedSpecial  Command = 0x51
	CommandWriteProtect     Command = 0x63
	CommandWriteUnprotect   Command = 0x73
	CommandReadoutProtect   Command = 0x82
	CommandReadoutUnprotect Command = 0x92
	CommandGetChecksum      Command = 0xa1
)

var commandNames = map[Command]string{
	CommandGet:              "Get",
	CommandGetVersion:       "GetVersion",
	CommandGetID:            "GetId",
	CommandReadMemory:       "ReadMemory",
	CommandGo:               "Go",
	CommandWriteMemory:      "WriteMemory",
	CommandErase:            "Erase",
	CommandExtendedErase:    "ExtendedErase",
	CommandSpecial:          "Special",
	CommandExtendedSpecial:  "ExtendedSpecial",
	CommandWriteProtect:     "WriteProtect",
	CommandWriteUnprotect:   "WriteUnprotect",
	CommandReadoutProtect:   "ReadoutProtect",
	CommandReadoutUnprotect: "ReadoutUnprotect",
	CommandGetChecksum:      "GetChecksum",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02x)", byte(c))
}

// DecodeCommand will convert a byte reported by the bootloader into a known
// command
func DecodeCommand(b byte) (Command, error) {
	switch c := Command(b); c {
	case CommandGet, CommandGetVersion, CommandGetID, CommandReadMemory,
		CommandGo, CommandWriteMemory, CommandErase, CommandExtendedErase,
		CommandSpecial, CommandExtendedSpecial, CommandWriteProtect,
		CommandWriteUnprotect, CommandReadoutProtect, CommandReadoutUnprotect,
		CommandGetChecksum:
		return c, nil
	default:
		return 0, &InvalidCommandError{Byte: b}
	}
}

// EncodeCommand will return the two byte header that starts every command:
// the command byte followed by its complement
func EncodeCommand(c Command) [2]byte {
	return [2]byte{byte(c), ^byte(c)}
}

// Response is the single byte reply the bootloader sends after each frame
type Response byte

const (
	ResponseAck  Response = 0x79
	ResponseNack Response = 0x1f
)

func (r Response) String() string {
	switch r {
	case ResponseAck:
		return "ACK"
	case ResponseNack:
		return "NACK"
	}
	return fmt.Sprintf("Response(0x%02x)", byte(r))
}

// DecodeResponse will interpret b as an ACK or NACK
func DecodeResponse(b byte) (Response, error) {
	switch r := Response(b); r {
	case ResponseAck, ResponseNack:
		return r, nil
	default:
		return 0, &InvalidResponseError{Byte: b}
	}
}

// Version is a bootloader protocol version packed as major.minor nibbles
type Version byte

func (v Version) Major() uint8 { return uint8(v) >> 4 }
func (v Version) Minor() uint8 { return uint8(v) & 0x0f }

// Value returns the major and minor version numbers
func (v Version) Value() (uint8, uint8) {
	return v.Major(), v.Minor()
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// EraseCommand identifies which erase form the bootloader supports. The two
// forms are mutually exclusive on a given chip.
type EraseCommand int

const (
	EraseStandard EraseCommand = iota
	EraseExtended
)

func (e EraseCommand) String() string {
	if e == EraseExtended {
		return "extended"
	}
	return "standard"
}

// BankErase selects the target of an extended global erase
type BankErase int

const (
	BankGlobal BankErase = iota
	Bank1
	Bank2
)

// sentinel returns the special page count sequence that selects the bank
func (b BankErase) sentinel() []byte {
	switch b {
	case Bank1:
		return []byte{0xff, 0xfe, 0x01}
	case Bank2:
		return []byte{0xff, 0xfd, 0x02}
	default:
		return []byte{0xff, 0xff, 0x00}
	}
}

func (b BankErase) String() string {
	switch b {
	case Bank1:
		return "bank1"
	case Bank2:
		return "bank2"
	}
	return "global"
}
