package repl

import (
	"bufio"
	"errors"
	"io"
	"net"

	"saltbox/internal/command"
	"saltbox/internal/logger"
	"saltbox/internal/resp"
)

// mailboxSize bounds the per-replica outbound queue. A full queue applies
// backpressure to the sender.
const mailboxSize = 100

// ToReplica is one buffer to push down a replica's socket, with a tag for
// logging.
type ToReplica struct {
	Bytes []byte
	Tag   string
}

// Forward delivers a command the replica sent back upstream (normally
// REPLCONF ACK) to the DB actor, along with its wire length and the
// replica's peer address.
type Forward func(cmd command.Command, byteCnt int, addr string)

// Egress owns the socket to one registered replica after the PSYNC handoff.
// A writer loop drains the outbound mailbox; a reader loop decodes whatever
// the replica sends back and forwards it to the DB actor.
type Egress struct {
	conn    net.Conn
	rw      *bufio.ReadWriter
	out     chan ToReplica
	forward Forward
	addr    string
}

// NewEgress wraps an already-handshaken replica connection. rw must be the
// buffered pair the session used, so bytes the replica sent early are not
// lost.
func NewEgress(conn net.Conn, rw *bufio.ReadWriter, forward Forward) *Egress {
	return &Egress{
		conn:    conn,
		rw:      rw,
		out:     make(chan ToReplica, mailboxSize),
		forward: forward,
		addr:    conn.RemoteAddr().String(),
	}
}

// Addr returns the replica's peer address, the key it is registered under.
func (e *Egress) Addr() string { return e.addr }

// Send queues bytes for the replica. Blocks when the mailbox is full.
func (e *Egress) Send(b []byte, tag string) {
	e.out <- ToReplica{Bytes: b, Tag: tag}
}

// Run drives both directions. The writer loop runs on the calling goroutine
// and does not return: write errors are logged and it keeps draining the
// mailbox. The reader runs beside it and stops when the connection closes.
func (e *Egress) Run() {
	go e.readLoop()

	for msg := range e.out {
		if _, err := e.rw.Writer.Write(msg.Bytes); err != nil {
			logger.Errorf("egress %s: write failed (%s): %v", e.addr, msg.Tag, err)
			continue
		}
		if err := e.rw.Writer.Flush(); err != nil {
			logger.Errorf("egress %s: flush failed (%s): %v", e.addr, msg.Tag, err)
			continue
		}
		logger.Debugf("egress %s: sent %d bytes (%s)", e.addr, len(msg.Bytes), msg.Tag)
	}
}

func (e *Egress) readLoop() {
	eofCnt := 0
	for {
		v, n, err := resp.Decode(e.rw.Reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Infof("egress %s: replica closed connection", e.addr)
				return
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				eofCnt++
				continue
			}
			logger.Errorf("egress %s: decode failed: %v", e.addr, err)
			return
		}

		cmd, err := command.Parse(v)
		if err != nil {
			logger.Warnf("egress %s: unparseable value from replica: %v", e.addr, err)
			continue
		}
		e.forward(cmd, n, e.addr)
	}
}
