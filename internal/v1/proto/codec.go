package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrIncomplete reports that the buffer does not yet hold one complete
// message. It is the normal "keep reading" condition, not a failure.
var ErrIncomplete = errors.New("incomplete message")

// Encode renders a message as pretty-printed, externally-tagged JSON.
// Unit variants encode as a bare JSON string.
func Encode(m Msg) []byte {
	switch v := m.(type) {
	case Ping:
		return []byte(`"Ping"`)
	case Text:
		return mustMarshal(map[string]Text{"Text": v})
	case Priv:
		return mustMarshal(map[string]Priv{"Priv": v})
	case Logout:
		return mustMarshal(map[string]string{"Logout": string(v)})
	case Name:
		return mustMarshal(map[string]string{"Name": string(v)})
	case Join:
		return mustMarshal(map[string]string{"Join": string(v)})
	case Query:
		return mustMarshal(map[string]Query{"Query": v})
	case Block:
		return mustMarshal(map[string]string{"Block": string(v)})
	case Unblock:
		return mustMarshal(map[string]string{"Unblock": string(v)})
	case Op:
		if v.Verb == OpOpen || v.Verb == OpClose {
			return mustMarshal(map[string]string{"Op": string(v.Verb)})
		}
		return mustMarshal(map[string]map[string]string{
			"Op": {string(v.Verb): v.Name},
		})
	case Info:
		return mustMarshal(map[string]string{"Info": string(v)})
	case Err:
		return mustMarshal(map[string]string{"Err": string(v)})
	case Misc:
		return mustMarshal(map[string]Misc{"Misc": v})
	default:
		panic(fmt.Sprintf("proto.Encode: unknown message type %T", m))
	}
}

// mustMarshal pretty-prints v. Every Msg field is a string or a string
// slice, so marshalling cannot fail.
func mustMarshal(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("proto: marshal: %v", err))
	}
	return data
}

// DecodeFirst decodes the first complete message in buf and returns the
// number of bytes it consumed. It returns ErrIncomplete when buf holds no
// complete JSON value yet; the caller should keep the buffer and read more.
//
// On a syntax error, it attempts the recovery described by the protocol:
// the error's byte offset splits the buffer, the prefix is decoded as one
// complete message, and the caller retains the remainder. A prefix that is
// itself undecodable is a fatal framing error.
func DecodeFirst(buf []byte) (Msg, int, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))

	var raw json.RawMessage
	err := dec.Decode(&raw)
	if err == nil {
		m, merr := fromRaw(raw)
		if merr != nil {
			return nil, 0, merr
		}
		return m, int(dec.InputOffset()), nil
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, ErrIncomplete
	}

	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		offs := int(syn.Offset)
		if offs <= 0 || offs > len(buf) {
			return nil, 0, fmt.Errorf("syntax error offset %d overran %d-byte buffer", offs, len(buf))
		}
		var prefix json.RawMessage
		if perr := json.Unmarshal(buf[:offs], &prefix); perr != nil {
			return nil, 0, fmt.Errorf("unrecoverable syntax error: %w", err)
		}
		m, merr := fromRaw(prefix)
		if merr != nil {
			return nil, 0, merr
		}
		return m, offs, nil
	}

	return nil, 0, err
}

// Decode decodes exactly one message from data.
func Decode(data []byte) (Msg, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return fromRaw(raw)
}

// fromRaw converts one raw JSON value into a Msg. A bare string is a unit
// variant; an object must have exactly one key, the variant tag.
func fromRaw(raw json.RawMessage) (Msg, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty message")
	}

	if trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return nil, err
		}
		return unitMsg(tag)
	}

	if trimmed[0] != '{' {
		return nil, fmt.Errorf("message is neither a tag string nor an object: %.32s", trimmed)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("message object has %d keys, want 1", len(fields))
	}

	for tag, body := range fields {
		return taggedMsg(tag, body)
	}
	return nil, errors.New("unreachable")
}

func unitMsg(tag string) (Msg, error) {
	if tag == "Ping" {
		return Ping{}, nil
	}
	return nil, fmt.Errorf("unknown unit message %q", tag)
}

func taggedMsg(tag string, body json.RawMessage) (Msg, error) {
	switch tag {
	case "Ping":
		// {"Ping": null} is the long form of the unit variant.
		return Ping{}, nil
	case "Text":
		var v Text
		err := json.Unmarshal(body, &v)
		return v, err
	case "Priv":
		var v Priv
		err := json.Unmarshal(body, &v)
		return v, err
	case "Logout":
		var s string
		err := json.Unmarshal(body, &s)
		return Logout(s), err
	case "Name":
		var s string
		err := json.Unmarshal(body, &s)
		return Name(s), err
	case "Join":
		var s string
		err := json.Unmarshal(body, &s)
		return Join(s), err
	case "Query":
		var v Query
		err := json.Unmarshal(body, &v)
		return v, err
	case "Block":
		var s string
		err := json.Unmarshal(body, &s)
		return Block(s), err
	case "Unblock":
		var s string
		err := json.Unmarshal(body, &s)
		return Unblock(s), err
	case "Op":
		return opMsg(body)
	case "Info":
		var s string
		err := json.Unmarshal(body, &s)
		return Info(s), err
	case "Err":
		var s string
		err := json.Unmarshal(body, &s)
		return Err(s), err
	case "Misc":
		var v Misc
		err := json.Unmarshal(body, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown message tag %q", tag)
	}
}

func opMsg(body json.RawMessage) (Msg, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var verb string
		if err := json.Unmarshal(trimmed, &verb); err != nil {
			return nil, err
		}
		switch OpVerb(verb) {
		case OpOpen, OpClose:
			return Op{Verb: OpVerb(verb)}, nil
		default:
			return nil, fmt.Errorf("unknown unit Op verb %q", verb)
		}
	}

	var fields map[string]string
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("Op object has %d keys, want 1", len(fields))
	}
	for verb, name := range fields {
		switch OpVerb(verb) {
		case OpKick, OpInvite, OpGive:
			return Op{Verb: OpVerb(verb), Name: name}, nil
		default:
			return nil, fmt.Errorf("unknown Op verb %q", verb)
		}
	}
	return nil, errors.New("unreachable")
}
