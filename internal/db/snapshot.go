package db

import (
	"bytes"
	"encoding/hex"

	"github.com/hdt3213/rdb/parser"

	"saltbox/internal/logger"
)

// emptyRDBHex is a canned 88-byte RDB snapshot with no keys, sent after
// FULLRESYNC in lieu of real persistence.
const emptyRDBHex = "524544495330303131" +
	"fa0972656469732d76657205372e322e30" +
	"fa0a72656469732d62697473c040" +
	"fa056374696d65c26d08bc65" +
	"fa08757365642d6d656dc2b0c41000" +
	"fa08616f662d62617365c000" +
	"fff06e3bfec0ff5aa2"

// EmptyRDB returns the canned empty snapshot blob.
func EmptyRDB() []byte {
	b, err := hex.DecodeString(emptyRDBHex)
	if err != nil {
		panic(err)
	}
	return b
}

// loadSnapshot applies the RDB blob received from the master to the store.
// Only string entries apply here; a failed parse is logged and skipped, as
// the command feed will converge the data anyway.
func (d *Db) loadSnapshot(data []byte) {
	if len(data) == 0 {
		return
	}
	decoder := parser.NewDecoder(bytes.NewReader(data))
	loaded := 0
	err := decoder.Parse(func(o parser.RedisObject) bool {
		str, ok := o.(*parser.StringObject)
		if !ok {
			logger.Debugf("snapshot: skipping %s key %q", o.GetType(), o.GetKey())
			return true
		}
		exp := noExpiry
		if str.Expiration != nil {
			exp = str.Expiration.UnixMilli()
		}
		d.kv[str.Key] = entry{val: string(str.Value), expiresAt: exp}
		loaded++
		return true
	})
	if err != nil {
		logger.Errorf("snapshot load failed: %v", err)
		return
	}
	logger.Infof("snapshot loaded, %d keys", loaded)
}
