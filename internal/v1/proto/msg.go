// Package proto defines the messages exchanged between the fresh server and
// its clients, and the JSON codec that puts them on the wire.
//
// Every message is one tagged JSON object (or a bare string for the unit
// variants), e.g.
//
//	{"Text": {"who": "alice", "lines": ["hi"]}}
//	{"Name": "alice"}
//	"Ping"
//
// Messages are self-delimiting; there is no length prefix. Several objects
// may be concatenated in one byte stream, with arbitrary whitespace (and
// pretty-printed newlines) between and inside them.
package proto

// Msg is one protocol message. The concrete types below are the only
// implementations; handlers switch on the concrete type.
type Msg interface {
	// Tag returns the wire tag of the message variant.
	Tag() string
}

// Text is a chunk of chat text. The server fills in Who when echoing a
// client's text to the room.
type Text struct {
	Who   string   `json:"who"`
	Lines []string `json:"lines"`
}

// Ping is a liveness probe, sent in either direction.
type Ping struct{}

// Priv is a private message. Client to server, Who names the recipient;
// server to client, Who names the sender.
type Priv struct {
	Who  string `json:"who"`
	Text string `json:"text"`
}

// Logout requests (client to server) or announces (server to client) an
// orderly disconnect, with a farewell shown to the rest of the room.
type Logout string

// Name asks the server to rename the sending user.
type Name string

// Join asks the server to move the sending user into the named room,
// creating it if necessary.
type Join string

// Query is a structured introspection request. What is one of "addr",
// "roster", "who" or "rooms"; Arg is a prefix pattern for "who" and "rooms".
type Query struct {
	What string `json:"what"`
	Arg  string `json:"arg"`
}

// Block asks the server to stop delivering messages from the named user.
type Block string

// Unblock reverses a Block.
type Unblock string

// OpVerb names one of the room-operator subcommands.
type OpVerb string

const (
	OpOpen   OpVerb = "Open"
	OpClose  OpVerb = "Close"
	OpKick   OpVerb = "Kick"
	OpInvite OpVerb = "Invite"
	OpGive   OpVerb = "Give"
)

// Op is a room-operator subcommand. Name is empty for Open and Close.
type Op struct {
	Verb OpVerb
	Name string
}

// Info is a non-error informational message from the server.
type Info string

// Err tells the client it did something wrong.
type Err string

// Misc is a structured server event the client may render specially, or
// fall back to displaying Alt as plain text. The What values and their Data
// shapes are fixed by the protocol ("join", "leave", "roster", "name",
// "priv_echo", "new_op", "kick_other", "kick_you", "addr", "who", "rooms").
type Misc struct {
	What string   `json:"what"`
	Data []string `json:"data"`
	Alt  string   `json:"alt"`
}

func (Text) Tag() string    { return "Text" }
func (Ping) Tag() string    { return "Ping" }
func (Priv) Tag() string    { return "Priv" }
func (Logout) Tag() string  { return "Logout" }
func (Name) Tag() string    { return "Name" }
func (Join) Tag() string    { return "Join" }
func (Query) Tag() string   { return "Query" }
func (Block) Tag() string   { return "Block" }
func (Unblock) Tag() string { return "Unblock" }
func (Op) Tag() string      { return "Op" }
func (Info) Tag() string    { return "Info" }
func (Err) Tag() string     { return "Err" }
func (Misc) Tag() string    { return "Misc" }

// Counts reports whether a received message is charged against the sender's
// byte quota. Only the kinds a user can spam a room with count.
func Counts(m Msg) bool {
	switch m.(type) {
	case Text, Priv, Name, Join:
		return true
	default:
		return false
	}
}
