package resp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type Type int

const (
	SimpleString Type = iota
	Error
	Integer
	BulkString
	BulkError
	Array
	File
)

// Value is one RESP protocol value. Str carries the payload of string-like
// types, Bytes carries File payloads, which are the only frames without a
// trailing CRLF on the wire.
type Value struct {
	Type   Type
	Str    string
	Int    int64
	Array  []Value
	Bytes  []byte
	IsNull bool
}

// Constructors for the common shapes.

func SimpleStr(s string) Value { return Value{Type: SimpleString, Str: s} }
func Bulk(s string) Value      { return Value{Type: BulkString, Str: s} }
func NullBulk() Value          { return Value{Type: BulkString, IsNull: true} }
func Int(n int64) Value        { return Value{Type: Integer, Int: n} }
func Err(msg string) Value     { return Value{Type: Error, Str: msg} }
func BulkErr(msg string) Value { return Value{Type: BulkError, Str: msg} }

func OK() Value { return SimpleStr("OK") }

// BulkArray builds an array of bulk strings, the canonical command form.
func BulkArray(parts ...string) Value {
	arr := make([]Value, len(parts))
	for i, p := range parts {
		arr[i] = Bulk(p)
	}
	return Value{Type: Array, Array: arr}
}

func (v Value) String() string {
	switch v.Type {
	case SimpleString, Error, BulkError:
		return v.Str
	case BulkString:
		if v.IsNull {
			return "<nil>"
		}
		return v.Str
	case Integer:
		return strconv.FormatInt(v.Int, 10)
	case Array:
		parts := make([]string, len(v.Array))
		for i, el := range v.Array {
			parts[i] = el.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case File:
		return fmt.Sprintf("<file %d bytes>", len(v.Bytes))
	}
	return "<unknown>"
}

// Encode writes the wire form of v. Every frame ends in CRLF except File
// payloads.
func Encode(w io.Writer, v Value) error {
	switch v.Type {
	case SimpleString:
		_, err := fmt.Fprintf(w, "+%s\r\n", v.Str)
		return err
	case Error:
		// CR/LF inside the message would break framing; emit them as the
		// two-character escapes instead.
		msg := strings.ReplaceAll(v.Str, "\r", `\r`)
		msg = strings.ReplaceAll(msg, "\n", `\n`)
		_, err := fmt.Fprintf(w, "-%s\r\n", msg)
		return err
	case Integer:
		_, err := fmt.Fprintf(w, ":%d\r\n", v.Int)
		return err
	case BulkString:
		if v.IsNull {
			_, err := io.WriteString(w, "$-1\r\n")
			return err
		}
		_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v.Str), v.Str)
		return err
	case BulkError:
		_, err := fmt.Fprintf(w, "!%d\r\n%s\r\n", len(v.Str), v.Str)
		return err
	case Array:
		if v.IsNull {
			_, err := io.WriteString(w, "*-1\r\n")
			return err
		}
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(v.Array)); err != nil {
			return err
		}
		for _, el := range v.Array {
			if err := Encode(w, el); err != nil {
				return err
			}
		}
		return nil
	case File:
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(v.Bytes)); err != nil {
			return err
		}
		_, err := w.Write(v.Bytes)
		return err
	default:
		return fmt.Errorf("resp: unknown type: %v", v.Type)
	}
}

// EncodeMany writes the concatenated wire form of vals.
func EncodeMany(w io.Writer, vals []Value) error {
	for _, v := range vals {
		if err := Encode(w, v); err != nil {
			return err
		}
	}
	return nil
}

// EncodeToBytes returns the wire form of v. Used wherever the byte length
// itself matters, such as replication offset accounting.
func EncodeToBytes(v Value) []byte {
	var b bytes.Buffer
	if err := Encode(&b, v); err != nil {
		// A bytes.Buffer write cannot fail; only an unknown Type ends up here.
		panic(err)
	}
	return b.Bytes()
}
