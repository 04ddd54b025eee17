package protocol

// Command record: [1B tag][4 x u32 little-endian]. Every variant is padded to
// the same length so framing never depends on the tag.
const (
	fieldCount  = 4
	fieldSize   = 4
	CommandSize = 1 + fieldCount*fieldSize
)

// Tag identifies the variant of a client command.
type Tag byte

const (
	TagHello   Tag = 'H'
	TagDraw    Tag = 'D'
	TagPower   Tag = 'P'
	TagGoodbye Tag = 'G'
)

func (t Tag) String() string {
	switch t {
	case TagHello:
		return "hello"
	case TagDraw:
		return "draw"
	case TagPower:
		return "power"
	case TagGoodbye:
		return "goodbye"
	default:
		return "unknown"
	}
}

// Opcode is a single-byte server-to-client notification.
type Opcode byte

const (
	OpActivated  Opcode = 'A' // granted display access
	OpEnqueued   Opcode = 'E' // connected, but below the active client
	OpGoodbyeAck Opcode = 'B' // server is closing this connection
	OpDrawOK     Opcode = 'K' // last frame fully output to the panel
	OpInvalid    Opcode = '?' // command rejected
)

func (o Opcode) String() string {
	switch o {
	case OpActivated:
		return "activated"
	case OpEnqueued:
		return "enqueued"
	case OpGoodbyeAck:
		return "goodbye_ack"
	case OpDrawOK:
		return "draw_ok"
	case OpInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
