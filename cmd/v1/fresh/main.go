// Command fresh is the line-mode reference client. It speaks the chat
// protocol over a single TCP connection, reading commands from stdin and
// rendering server traffic to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/freshchat/fresh/internal/v1/config"
	"github.com/freshchat/fresh/internal/v1/proto"
	"github.com/freshchat/fresh/internal/v1/socket"
)

const helpText = `commands:
  %[1]squit [message]      log out, with an optional farewell
  %[1]sname <new name>     ask the server to rename you
  %[1]sjoin <room>         move to a room, creating it if necessary
  %[1]spriv <who> <text>   send a private message
  %[1]swho [prefix]        list users matching a prefix
  %[1]srooms [prefix]      list rooms matching a prefix
  %[1]sroster              list everyone in your current room
  %[1]saddr                ask for your public address
  %[1]sblock <who>         stop seeing messages from a user
  %[1]sunblock <who>       see their messages again
  %[1]sop open|close       open or close your room (operator only)
  %[1]sop kick <who>       kick and ban a user (operator only)
  %[1]sop invite <who>     let a user past a closed door (operator only)
  %[1]sop give <who>       hand over the room (operator only)
anything else is said to the room; start a line with %[1]s%[1]s to say
something that begins with %[1]s.`

func main() {
	configPath := flag.String("config", "fresh.conf", "path to the client configuration file")
	nameFlag := flag.String("name", "", "name to connect with (overrides the configuration file)")
	addrFlag := flag.String("address", "", "server address (overrides the configuration file)")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *nameFlag != "" {
		cfg.Name = *nameFlag
	}
	if *addrFlag != "" {
		cfg.Address = *addrFlag
	}

	fmt.Printf("Attempting to connect to %s...\n", cfg.Address)
	conn, err := net.Dial("tcp", cfg.Address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", cfg.Address, err)
		os.Exit(1)
	}
	sock, err := socket.New(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not set up connection: %v\n", err)
		os.Exit(1)
	}
	sock.SetReadSize(cfg.ReadSize)

	if err := sock.BlockingSend(proto.Encode(proto.Name(cfg.Name)), 5*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "could not introduce ourselves: %v\n", err)
		os.Exit(1)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	cmdChar := cfg.CmdChar
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// stdin closed; log out politely and wait for the server's
				// Logout below.
				sock.Enqueue(proto.Encode(proto.Logout("[ client quit ]")))
				lines = nil
			} else if msg := parseInput(line, cmdChar); msg != nil {
				sock.Enqueue(proto.Encode(msg))
			}
		default:
		}

		if _, err := sock.ReadIntoBuffer(); err != nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			os.Exit(1)
		}
		for {
			msg, err := sock.TryDecode()
			if err != nil {
				fmt.Fprintf(os.Stderr, "protocol error: %v\n", err)
				os.Exit(1)
			}
			if msg == nil {
				break
			}
			if done := render(sock, msg); done {
				sock.Shutdown()
				return
			}
		}
		if _, err := sock.FlushSome(); err != nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			os.Exit(1)
		}

		time.Sleep(cfg.Timeout)
	}
}

// parseInput turns one line of user input into a protocol message, or nil
// when the line is a local command (or an error) with nothing to send.
func parseInput(line string, cmdChar string) proto.Msg {
	if !strings.HasPrefix(line, cmdChar) {
		return proto.Text{Lines: []string{line}}
	}
	rest := strings.TrimPrefix(line, cmdChar)
	if strings.HasPrefix(rest, cmdChar) {
		// A doubled command character speaks a literal line of text.
		return proto.Text{Lines: []string{rest}}
	}

	verb, arg := splitVerb(rest)
	switch strings.ToLower(verb) {
	case "help":
		fmt.Printf(helpText+"\n", cmdChar)
		return nil
	case "quit":
		if arg == "" {
			arg = "[ client quit ]"
		}
		return proto.Logout(arg)
	case "name":
		return proto.Name(arg)
	case "join":
		return proto.Join(arg)
	case "priv":
		who, text := splitVerb(arg)
		if who == "" {
			fmt.Printf("Usage: %spriv <user> <text>\n", cmdChar)
			return nil
		}
		return proto.Priv{Who: who, Text: text}
	case "who", "rooms":
		return proto.Query{What: strings.ToLower(verb), Arg: arg}
	case "roster":
		return proto.Query{What: "roster"}
	case "addr":
		return proto.Query{What: "addr"}
	case "block":
		return proto.Block(arg)
	case "unblock":
		return proto.Unblock(arg)
	case "op":
		return parseOp(arg, cmdChar)
	default:
		fmt.Printf("# Unknown command %q; try %shelp.\n", verb, cmdChar)
		return nil
	}
}

func parseOp(arg string, cmdChar string) proto.Msg {
	verb, name := splitVerb(arg)
	switch strings.ToLower(verb) {
	case "open":
		return proto.Op{Verb: proto.OpOpen}
	case "close":
		return proto.Op{Verb: proto.OpClose}
	case "kick", "ban":
		return proto.Op{Verb: proto.OpKick, Name: name}
	case "invite":
		return proto.Op{Verb: proto.OpInvite, Name: name}
	case "give":
		return proto.Op{Verb: proto.OpGive, Name: name}
	default:
		fmt.Printf("Usage: %sop open|close|kick|invite|give [user]\n", cmdChar)
		return nil
	}
}

// splitVerb splits off the first whitespace-delimited word; the remainder
// keeps its internal spacing.
func splitVerb(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// render prints one server message. It returns true when the session is
// over and the client should exit.
func render(sock *socket.Socket, msg proto.Msg) bool {
	switch m := msg.(type) {
	case proto.Ping:
		sock.Enqueue(proto.Encode(proto.Ping{}))
	case proto.Text:
		for _, line := range m.Lines {
			fmt.Printf("%s: %s\n", m.Who, line)
		}
	case proto.Priv:
		fmt.Printf("%s @ you: %s\n", m.Who, m.Text)
	case proto.Info:
		fmt.Printf("* %s\n", string(m))
	case proto.Err:
		fmt.Printf("# %s\n", string(m))
	case proto.Misc:
		fmt.Println(m.Alt)
	case proto.Logout:
		fmt.Printf("Logged out: %s\n", string(m))
		return true
	default:
		fmt.Printf("# Unexpected message from the server: %v\n", msg)
	}
	return false
}
