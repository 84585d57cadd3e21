package server

import (
	"bufio"
	"errors"
	"io"
	"net"

	"saltbox/internal/command"
	"saltbox/internal/db"
	"saltbox/internal/logger"
	"saltbox/internal/resp"
)

// session reads framed values from one connection, forwards them to the DB
// actor, and writes replies back. With isReplication set the connection is
// the inbound master feed: commands still execute, but replies are
// suppressed except for REPLCONF ACK probe answers.
func (s *Server) session(conn net.Conn, rw *bufio.ReadWriter, isReplication bool) {
	client := db.ClientInfoFromAddr(conn.RemoteAddr().String())
	logger.Debugf("session started for %s (replication=%v)", client.Addr(), isReplication)

	passedOff := false
	defer func() {
		if !passedOff {
			_ = conn.Close()
		}
		logger.Debugf("session ended for %s", client.Addr())
	}()

	eofCnt := 0
	for {
		v, byteCnt, err := resp.Decode(rw.Reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// A frame got cut off mid-read. The peer either died (the
				// next read reports a clean close) or is misbehaving.
				eofCnt++
				continue
			}
			logger.Errorf("session %s: decode failed: %v", client.Addr(), err)
			return
		}

		cmd, err := command.Parse(v)
		if err != nil {
			// Parse failures answer with an error and keep the session
			// alive, uniformly for unknown names and bad arities.
			logger.Warnf("session %s: %v", client.Addr(), err)
			if !isReplication {
				s.writeReply(rw, []resp.Value{resp.Err("ERR " + err.Error())}, client)
			}
			continue
		}

		reply := make(chan db.QueryResult, 1)
		s.db.Submit(db.Query{Cmd: cmd, DeserByteCnt: byteCnt, Client: client}, reply)
		res := <-reply

		// An empty Vals means the actor produced no reply; check that
		// before the replication gating predicate.
		if len(res.Vals) > 0 && shouldReply(isReplication, res) {
			s.writeReply(rw, res.Vals, client)
		}

		if res.PassStream {
			s.db.PassStream(conn, rw)
			passedOff = true
			return
		}
	}
}

// shouldReply gates replies on a replication feed: the master-driven stream
// is write-only from the master's perspective, except that ack probe
// answers (REPLCONF ACK ...) must travel back.
func shouldReply(isReplication bool, res db.QueryResult) bool {
	if !isReplication {
		return true
	}
	first := res.Vals[0]
	if first.Type != resp.Array || len(first.Array) < 2 {
		return false
	}
	return first.Array[0].Str == "REPLCONF" && first.Array[1].Str == "ACK"
}

func (s *Server) writeReply(rw *bufio.ReadWriter, vals []resp.Value, client db.ClientInfo) {
	if err := resp.EncodeMany(rw.Writer, vals); err != nil {
		logger.Errorf("session %s: write failed: %v", client.Addr(), err)
		return
	}
	if err := rw.Writer.Flush(); err != nil {
		logger.Errorf("session %s: flush failed: %v", client.Addr(), err)
	}
}
