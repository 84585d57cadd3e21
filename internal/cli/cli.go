package cli

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"saltbox/internal/resp"
)

// Config holds the client's connection settings.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Run connects to a server and executes a read-send-print loop until EOF or
// an exit command. When stdin is not a terminal (piped input) the prompt is
// suppressed and the loop just streams commands through.
func Run(cfg Config) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Printf("%s> ", addr)
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		parts := splitArgs(line)
		if err := resp.Encode(rw.Writer, resp.BulkArray(parts...)); err != nil {
			return err
		}
		if err := rw.Writer.Flush(); err != nil {
			return err
		}

		reply, _, err := resp.Decode(rw.Reader)
		if err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		fmt.Println(Format(reply))
	}
	return scanner.Err()
}

// splitArgs tokenizes a command line, honoring double-quoted arguments.
func splitArgs(line string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

// Format renders a reply the way redis-cli would.
func Format(v resp.Value) string {
	return format(v, "")
}

func format(v resp.Value, indent string) string {
	switch v.Type {
	case resp.SimpleString:
		return v.Str
	case resp.Error, resp.BulkError:
		return "(error) " + v.Str
	case resp.Integer:
		return "(integer) " + strconv.FormatInt(v.Int, 10)
	case resp.BulkString:
		if v.IsNull {
			return "(nil)"
		}
		return strconv.Quote(v.Str)
	case resp.Array:
		if v.IsNull {
			return "(nil)"
		}
		if len(v.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, el := range v.Array {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s%d) %s", indent, i+1, format(el, indent+"   "))
		}
		return b.String()
	default:
		return fmt.Sprintf("(unknown reply type %d)", v.Type)
	}
}
