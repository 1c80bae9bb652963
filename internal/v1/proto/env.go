package proto

// EndKind discriminates the endpoint variants of an envelope route.
type EndKind int

const (
	// EndUser addresses a single user by id.
	EndUser EndKind = iota
	// EndRoom addresses every current member of a room.
	EndRoom
	// EndServer marks the server itself as the source of a message.
	EndServer
	// EndAll addresses every connected user.
	EndAll
)

// End is one endpoint of an envelope's route. ID is meaningful only for
// EndUser and EndRoom.
type End struct {
	Kind EndKind
	ID   uint64
}

// ToUser returns an End addressing the user with the given id.
func ToUser(id uint64) End { return End{Kind: EndUser, ID: id} }

// ToRoom returns an End addressing the room with the given id.
func ToRoom(id uint64) End { return End{Kind: EndRoom, ID: id} }

// FromServer is the source endpoint for server-originated messages.
func FromServer() End { return End{Kind: EndServer} }

// Env wraps the encoded bytes of a message together with routing metadata.
// The payload is opaque once wrapped; the server routes and block-filters
// envelopes without re-decoding them.
type Env struct {
	Source End
	Dest   End
	data   []byte
}

// NewEnv encodes msg and wraps it for routing from source to dest.
func NewEnv(source, dest End, msg Msg) Env {
	return Env{Source: source, Dest: dest, data: Encode(msg)}
}

// Bytes returns the encoded payload.
func (e Env) Bytes() []byte { return e.data }
