package db

import (
	"bufio"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"saltbox/internal/command"
	"saltbox/internal/config"
	"saltbox/internal/logger"
	"saltbox/internal/repl"
	"saltbox/internal/resp"
)

// mailboxSize bounds the actor's inbound queue.
const mailboxSize = 100

// backlogSize is how much broadcast history the master retains.
const backlogSize = 1024 * 1024

// ClientInfo identifies the peer a query arrived from.
type ClientInfo struct {
	Host string
	Port string
}

// Addr returns the "host:port" key replicas are registered under.
func (c ClientInfo) Addr() string { return c.Host + ":" + c.Port }

// ClientInfoFromAddr splits a "host:port" peer address.
func ClientInfoFromAddr(addr string) ClientInfo {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ClientInfo{Host: addr}
	}
	return ClientInfo{Host: host, Port: port}
}

// Query is one command submitted to the actor, with the number of wire
// bytes its value occupied (the replica side's feed accounting) and the
// issuing peer.
type Query struct {
	Cmd          command.Command
	DeserByteCnt int
	Client       ClientInfo
}

// QueryResult is the actor's answer. Empty Vals means the query was
// deferred or wants no reply. PassStream tells the session to hand its
// socket over to a replica egress. ReplByteCntInc is added to the feed
// byte counter after the reply is dispatched.
type QueryResult struct {
	Vals           []resp.Value
	PassStream     bool
	ReplByteCntInc int
}

type message interface{ isMessage() }

type queryMsg struct {
	q     Query
	reply chan<- QueryResult
}

type passStreamMsg struct {
	conn net.Conn
	rw   *bufio.ReadWriter
}

type loadSnapshotMsg struct {
	data []byte
}

func (queryMsg) isMessage()        {}
func (passStreamMsg) isMessage()   {}
func (loadSnapshotMsg) isMessage() {}

// noExpiry marks entries without a TTL.
const noExpiry = int64(math.MaxInt64)

type entry struct {
	val       string
	expiresAt int64 // absolute unix millis
}

type replicaState struct {
	egress      *repl.Egress
	ackedOffset int64
}

// Db owns every piece of mutable database state. All of it is reached only
// through the mailbox, processed serially by Run; nothing else may touch it.
type Db struct {
	kv  map[string]entry
	cfg config.Config

	in   chan message
	quit chan struct{}

	// Master side.
	replicas map[string]*replicaState
	backlog  *repl.Backlog // its end offset is the replication offset

	// Replica side: bytes of commands consumed from the master feed.
	replByteCnt int

	replicationID string
}

// New creates the actor. Run must be started on its own goroutine before
// any Submit.
func New(cfg config.Config) *Db {
	return &Db{
		kv:            make(map[string]entry),
		cfg:           cfg,
		in:            make(chan message, mailboxSize),
		quit:          make(chan struct{}),
		replicas:      make(map[string]*replicaState),
		backlog:       repl.NewBacklog(backlogSize),
		replicationID: makeReplicationID(uint64(time.Now().UnixMilli())),
	}
}

// Submit enqueues a query. The result, if any, arrives on reply; a deferred
// WAIT answers on the same channel later.
func (d *Db) Submit(q Query, reply chan<- QueryResult) {
	d.in <- queryMsg{q: q, reply: reply}
}

// PassStream registers the socket of a replica that has completed PSYNC.
// Ownership of conn transfers to a new egress handler.
func (d *Db) PassStream(conn net.Conn, rw *bufio.ReadWriter) {
	d.in <- passStreamMsg{conn: conn, rw: rw}
}

// LoadSnapshot hands the actor an RDB blob received from the master.
func (d *Db) LoadSnapshot(data []byte) {
	d.in <- loadSnapshotMsg{data: data}
}

// Stop terminates the Run loop.
func (d *Db) Stop() {
	close(d.quit)
}

// ReplicationID returns the instance's replication id.
func (d *Db) ReplicationID() string { return d.replicationID }

// Run drains the mailbox until Stop. It is the single goroutine allowed to
// touch the database state.
func (d *Db) Run() {
	logger.Infof("db actor running, role=%s, replication id %s", d.cfg.Role, d.replicationID)
	for {
		select {
		case <-d.quit:
			logger.Info("db actor stopping")
			return
		case msg := <-d.in:
			switch m := msg.(type) {
			case queryMsg:
				res := d.execute(m.q, m.reply)
				if len(res.Vals) > 0 {
					m.reply <- res
				}
				d.replByteCnt += res.ReplByteCntInc
			case passStreamMsg:
				d.registerReplica(m.conn, m.rw)
			case loadSnapshotMsg:
				d.loadSnapshot(m.data)
			}
		}
	}
}

// execute runs one command on the actor's goroutine. reply is only used by
// WAIT, which may answer long after this call returns.
func (d *Db) execute(q Query, reply chan<- QueryResult) QueryResult {
	var vals []resp.Value

	switch cmd := q.Cmd.(type) {
	case command.Ping:
		vals = []resp.Value{resp.SimpleStr("PONG")}
	case command.Echo:
		vals = []resp.Value{resp.Bulk(cmd.Msg)}
	case command.Get:
		vals = []resp.Value{d.execGet(cmd)}
	case command.Set:
		vals = []resp.Value{d.execSet(cmd)}
	case command.Info:
		vals = []resp.Value{d.execInfo(cmd)}
	case command.ReplConf:
		vals = []resp.Value{d.execReplConf(cmd)}
	case command.ReplConfGetAck:
		vals = []resp.Value{d.execReplConfGetAck()}
	case command.ReplConfAck:
		d.execReplConfAck(cmd, q.Client)
	case command.Psync:
		if cmd.ReplID == "?" && cmd.Offset == -1 {
			return QueryResult{
				Vals: []resp.Value{
					resp.SimpleStr("FULLRESYNC " + d.replicationID + " 0"),
					{Type: resp.File, Bytes: EmptyRDB()},
				},
				PassStream: true,
			}
		}
		vals = []resp.Value{resp.Err("ERR unsupported PSYNC request")}
	case command.Wait:
		if v, ok := d.execWait(cmd.NumReplicas, true, cmd.TimeoutMS, q, reply); ok {
			vals = []resp.Value{v}
		}
	case command.WaitInternal:
		if v, ok := d.execWait(cmd.NumReplicas, false, cmd.TimeoutMS, q, reply); ok {
			vals = []resp.Value{v}
		}
	default:
		vals = []resp.Value{resp.Err("ERR unhandled command")}
	}

	return QueryResult{Vals: vals, ReplByteCntInc: q.DeserByteCnt}
}

func (d *Db) execGet(cmd command.Get) resp.Value {
	e, ok := d.kv[cmd.Key]
	if !ok || nowMillis() >= e.expiresAt {
		return resp.NullBulk()
	}
	return resp.Bulk(e.val)
}

func (d *Db) execSet(cmd command.Set) resp.Value {
	exp := noExpiry
	if cmd.HasPX {
		exp = nowMillis() + cmd.ExpiryMS
	}
	d.kv[cmd.Key] = entry{val: cmd.Value, expiresAt: exp}

	if len(d.replicas) > 0 {
		// The canonical encoding of the command is the unit of replication:
		// its byte length is what advances the offset, and the same bytes go
		// to every replica.
		bytes := resp.EncodeToBytes(cmd.ToValue())
		d.backlog.Append(bytes)
		logger.Debugf("propagating SET %s to %d replicas, offset now %d",
			cmd.Key, len(d.replicas), d.backlog.Offset())
		for addr, r := range d.replicas {
			r.egress.Send(bytes, "propagate SET "+cmd.Key+" to "+addr)
		}
	}

	return resp.OK()
}

func (d *Db) execInfo(cmd command.Info) resp.Value {
	if cmd.Section != "replication" {
		return resp.NullBulk()
	}
	lines := []string{
		"role:" + d.cfg.Role.String(),
		"master_replid:" + d.replicationID,
		"master_repl_offset:" + strconv.FormatInt(d.backlog.Offset(), 10),
	}
	return resp.Bulk(strings.Join(lines, "\r\n"))
}

func (d *Db) execReplConf(cmd command.ReplConf) resp.Value {
	switch cmd.Key {
	case "listening-port":
		// Informational only. Replicas are registered when PSYNC hands
		// their stream over, not here.
		return resp.OK()
	case "capa":
		if cmd.Val == "psync2" {
			return resp.OK()
		}
		return resp.BulkErr("cannot handle capa '" + cmd.Val + "'")
	default:
		return resp.BulkErr("cannot handle replconf key '" + cmd.Key + "'")
	}
}

// execReplConfGetAck answers the master's ack probe with the feed offset as
// of before this probe: the probe's own bytes are added to the counter only
// after the reply is dispatched.
func (d *Db) execReplConfGetAck() resp.Value {
	return command.ReplConfAck{Offset: int64(d.replByteCnt)}.ToValue()
}

func (d *Db) execReplConfAck(cmd command.ReplConfAck, client ClientInfo) {
	key := client.Addr()
	if r, ok := d.replicas[key]; ok {
		r.ackedOffset = cmd.Offset
		logger.Debugf("replica %s acked offset %d", key, cmd.Offset)
	} else {
		logger.Warnf("ack from unknown replica %s (known: %v)", key, d.replicaAddrs())
	}
}

// registerReplica promotes a handshaken connection into the replica set and
// spawns its egress handler.
func (d *Db) registerReplica(conn net.Conn, rw *bufio.ReadWriter) {
	egress := repl.NewEgress(conn, rw, d.forwardFromReplica)
	go egress.Run()

	// Key by the same normalized form acks arrive under.
	addr := ClientInfoFromAddr(egress.Addr()).Addr()
	if _, ok := d.replicas[addr]; !ok {
		d.replicas[addr] = &replicaState{egress: egress}
	}
	logger.Infof("registered replica %s (%d total)", addr, len(d.replicas))
}

// forwardFromReplica runs on an egress reader goroutine. Replies are
// discarded: acks produce none, and anything else a replica volunteers is
// not answerable over a one-way feed.
func (d *Db) forwardFromReplica(cmd command.Command, byteCnt int, addr string) {
	sink := make(chan QueryResult, 1)
	d.Submit(Query{Cmd: cmd, DeserByteCnt: byteCnt, Client: ClientInfoFromAddr(addr)}, sink)
}

func (d *Db) replicaAddrs() []string {
	addrs := make([]string, 0, len(d.replicas))
	for a := range d.replicas {
		addrs = append(addrs, a)
	}
	return addrs
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
