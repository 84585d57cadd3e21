package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saltbox/internal/command"
	"saltbox/internal/config"
	"saltbox/internal/resp"
)

var testClient = ClientInfo{Host: "127.0.0.1", Port: "54321"}

func newTestDb(t *testing.T, cfg config.Config) *Db {
	t.Helper()
	d := New(cfg)
	go d.Run()
	t.Cleanup(d.Stop)
	return d
}

// query submits cmd and waits for the actor's answer.
func query(t *testing.T, d *Db, cmd command.Command, byteCnt int) QueryResult {
	t.Helper()
	reply := make(chan QueryResult, 1)
	d.Submit(Query{Cmd: cmd, DeserByteCnt: byteCnt, Client: testClient}, reply)
	select {
	case res := <-reply:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for %v", cmd)
		return QueryResult{}
	}
}

func wireLen(cmd command.Command) int {
	return len(resp.EncodeToBytes(cmd.ToValue()))
}

func TestPingAndEcho(t *testing.T) {
	d := newTestDb(t, config.New(6379, ""))

	res := query(t, d, command.Ping{}, 14)
	require.Len(t, res.Vals, 1)
	assert.Equal(t, resp.SimpleStr("PONG"), res.Vals[0])

	res = query(t, d, command.Echo{Msg: "pears"}, 25)
	assert.Equal(t, resp.Bulk("pears"), res.Vals[0])
}

func TestSetAndGet(t *testing.T) {
	d := newTestDb(t, config.New(6379, ""))

	t.Run("set_then_get", func(t *testing.T) {
		res := query(t, d, command.Set{Key: "foo", Value: "bar"}, 31)
		assert.Equal(t, resp.OK(), res.Vals[0])

		res = query(t, d, command.Get{Key: "foo"}, 22)
		assert.Equal(t, resp.Bulk("bar"), res.Vals[0])
	})

	t.Run("missing_key", func(t *testing.T) {
		res := query(t, d, command.Get{Key: "nope"}, 23)
		assert.Equal(t, resp.NullBulk(), res.Vals[0])
	})

	t.Run("overwrite", func(t *testing.T) {
		query(t, d, command.Set{Key: "foo", Value: "baz"}, 31)
		res := query(t, d, command.Get{Key: "foo"}, 22)
		assert.Equal(t, resp.Bulk("baz"), res.Vals[0])
	})
}

func TestSetWithExpiry(t *testing.T) {
	d := newTestDb(t, config.New(6379, ""))

	query(t, d, command.Set{Key: "foo", Value: "bar", ExpiryMS: 80, HasPX: true}, 47)

	res := query(t, d, command.Get{Key: "foo"}, 22)
	assert.Equal(t, resp.Bulk("bar"), res.Vals[0], "entry must be visible before expiry")

	time.Sleep(150 * time.Millisecond)
	res = query(t, d, command.Get{Key: "foo"}, 22)
	assert.Equal(t, resp.NullBulk(), res.Vals[0], "expired entry reads as null")
}

func TestInfo(t *testing.T) {
	t.Run("replication_on_master", func(t *testing.T) {
		d := newTestDb(t, config.New(6379, ""))
		res := query(t, d, command.Info{Section: "replication"}, 0)
		require.Len(t, res.Vals, 1)
		body := res.Vals[0].Str
		lines := strings.Split(body, "\r\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "role:master", lines[0])
		assert.Equal(t, "master_replid:"+d.ReplicationID(), lines[1])
		assert.Len(t, d.ReplicationID(), 20)
		assert.Equal(t, "master_repl_offset:0", lines[2])
	})

	t.Run("replication_on_replica", func(t *testing.T) {
		d := newTestDb(t, config.New(6380, "127.0.0.1 6379"))
		res := query(t, d, command.Info{Section: "replication"}, 0)
		assert.Contains(t, res.Vals[0].Str, "role:slave")
	})

	t.Run("unknown_section", func(t *testing.T) {
		d := newTestDb(t, config.New(6379, ""))
		res := query(t, d, command.Info{Section: "memory"}, 0)
		assert.Equal(t, resp.NullBulk(), res.Vals[0])
	})
}

func TestReplConf(t *testing.T) {
	d := newTestDb(t, config.New(6379, ""))

	res := query(t, d, command.ReplConf{Key: "listening-port", Val: "6380"}, 0)
	assert.Equal(t, resp.OK(), res.Vals[0])

	res = query(t, d, command.ReplConf{Key: "capa", Val: "psync2"}, 0)
	assert.Equal(t, resp.OK(), res.Vals[0])

	res = query(t, d, command.ReplConf{Key: "capa", Val: "eof"}, 0)
	assert.Equal(t, resp.BulkError, res.Vals[0].Type)

	res = query(t, d, command.ReplConf{Key: "bogus", Val: "x"}, 0)
	assert.Equal(t, resp.BulkError, res.Vals[0].Type)
}

// The feed byte counter must report the offset as of before the GETACK
// probe itself; the probe's bytes land on the counter only after its reply.
func TestGetAckReportsPreProbeOffset(t *testing.T) {
	d := newTestDb(t, config.New(6380, "127.0.0.1 6379"))

	setBytes := wireLen(command.Set{Key: "foo", Value: "bar"})
	query(t, d, command.Set{Key: "foo", Value: "bar"}, setBytes)

	getAckBytes := wireLen(command.ReplConfGetAck{Arg: "*"})
	res := query(t, d, command.ReplConfGetAck{Arg: "*"}, getAckBytes)
	require.Len(t, res.Vals, 1)
	assert.Equal(t, command.ReplConfAck{Offset: int64(setBytes)}.ToValue(), res.Vals[0])

	res = query(t, d, command.ReplConfGetAck{Arg: "*"}, getAckBytes)
	assert.Equal(t, command.ReplConfAck{Offset: int64(setBytes + getAckBytes)}.ToValue(), res.Vals[0])
}

func TestPsync(t *testing.T) {
	d := newTestDb(t, config.New(6379, ""))

	t.Run("full_resync", func(t *testing.T) {
		res := query(t, d, command.Psync{ReplID: "?", Offset: -1}, 0)
		require.Len(t, res.Vals, 2)
		assert.Equal(t, resp.SimpleStr("FULLRESYNC "+d.ReplicationID()+" 0"), res.Vals[0])
		assert.Equal(t, resp.File, res.Vals[1].Type)
		assert.Len(t, res.Vals[1].Bytes, 88)
		assert.True(t, res.PassStream)
		assert.Equal(t, 0, res.ReplByteCntInc)
	})

	t.Run("unsupported_request", func(t *testing.T) {
		res := query(t, d, command.Psync{ReplID: "abc", Offset: 7}, 0)
		assert.Equal(t, resp.Error, res.Vals[0].Type)
		assert.False(t, res.PassStream)
	})
}

func TestEmptyRDB(t *testing.T) {
	blob := EmptyRDB()
	assert.Len(t, blob, 88)
	assert.Equal(t, "REDIS0011", string(blob[:9]))
}

func TestLoadSnapshotEmpty(t *testing.T) {
	d := newTestDb(t, config.New(6380, "127.0.0.1 6379"))
	d.LoadSnapshot(EmptyRDB())

	res := query(t, d, command.Get{Key: "anything"}, 0)
	assert.Equal(t, resp.NullBulk(), res.Vals[0])
}

func TestMakeReplicationID(t *testing.T) {
	id := makeReplicationID(1700000000000)
	assert.Len(t, id, 20)
	assert.Equal(t, id, makeReplicationID(1700000000000), "same seed, same id")
	assert.NotEqual(t, id, makeReplicationID(1700000000001))
	for _, c := range id {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
}
