package repl

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"saltbox/internal/command"
	"saltbox/internal/logger"
	"saltbox/internal/resp"
)

// MasterProxy is the replica side's client of an upstream master. It runs
// the replication handshake; afterwards the same connection carries the
// master's one-way command feed.
type MasterProxy struct {
	masterAddr string
	conn       net.Conn
	rw         *bufio.ReadWriter
	runID      string
}

// DialMaster connects to the master at addr ("host:port").
func DialMaster(addr string) (*MasterProxy, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master %s: %w", addr, err)
	}
	return &MasterProxy{
		masterAddr: addr,
		conn:       conn,
		rw:         bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
	}, nil
}

// Handshake runs the ordered replication handshake, awaiting a reply after
// each step, and returns the snapshot blob the master sends after
// FULLRESYNC.
func (p *MasterProxy) Handshake(listeningPort int) ([]byte, error) {
	reply, err := p.sendCommand(command.Ping{})
	if err != nil {
		return nil, fmt.Errorf("PING: %w", err)
	}
	if reply.Type != resp.SimpleString || reply.Str != "PONG" {
		return nil, fmt.Errorf("unexpected PING reply: %v", reply)
	}

	port := strconv.Itoa(listeningPort)
	if err := p.expectOK(command.ReplConf{Key: "listening-port", Val: port}); err != nil {
		return nil, err
	}
	if err := p.expectOK(command.ReplConf{Key: "capa", Val: "psync2"}); err != nil {
		return nil, err
	}

	reply, err = p.sendCommand(command.Psync{ReplID: "?", Offset: -1})
	if err != nil {
		return nil, fmt.Errorf("PSYNC: %w", err)
	}
	if reply.Type != resp.SimpleString {
		return nil, fmt.Errorf("unexpected PSYNC reply type: %v", reply)
	}
	parts := strings.Fields(reply.Str)
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return nil, fmt.Errorf("unexpected PSYNC reply: %s", reply.Str)
	}
	p.runID = parts[1]
	logger.Infof("master %s granted FULLRESYNC, run id %s", p.masterAddr, p.runID)

	file, err := resp.DecodeFile(p.rw.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	logger.Infof("received %d byte snapshot from master", len(file.Bytes))
	return file.Bytes, nil
}

func (p *MasterProxy) expectOK(cmd command.Command) error {
	reply, err := p.sendCommand(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	if reply.Type != resp.SimpleString || reply.Str != "OK" {
		return fmt.Errorf("unexpected %s reply: %v", cmd.Name(), reply)
	}
	return nil
}

func (p *MasterProxy) sendCommand(cmd command.Command) (resp.Value, error) {
	if err := resp.Encode(p.rw.Writer, cmd.ToValue()); err != nil {
		return resp.Value{}, err
	}
	if err := p.rw.Writer.Flush(); err != nil {
		return resp.Value{}, err
	}
	v, _, err := resp.Decode(p.rw.Reader)
	return v, err
}

// RunID returns the master's replication id, known after Handshake.
func (p *MasterProxy) RunID() string { return p.runID }

// Conn returns the underlying connection, still buffered through Stream.
func (p *MasterProxy) Conn() net.Conn { return p.conn }

// Stream returns the buffered pair the handshake used. The feed must keep
// reading through it so no buffered bytes are lost.
func (p *MasterProxy) Stream() *bufio.ReadWriter { return p.rw }
