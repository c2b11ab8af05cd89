package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// replyType enumerates the RESP2 types the provider reads.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

// ServerError is an error reply from the server.
type ServerError string

func (e ServerError) Error() string { return string(e) }

type respReply struct {
	typ  replyType
	data []byte
}

func (r respReply) ok() bool {
	return r.typ == replySimpleString && strings.EqualFold(string(r.data), "OK")
}

type valkeyConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newValkeyConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *valkeyConn {
	return &valkeyConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (vc *valkeyConn) close() { _ = vc.conn.Close() }

func (vc *valkeyConn) call(command string, args ...any) (respReply, error) {
	if err := vc.write(command, args...); err != nil {
		return respReply{}, err
	}
	return vc.readReply()
}

// write encodes a command as a RESP array of bulk strings. args must be
// strings or byte slices.
func (vc *valkeyConn) write(command string, args ...any) error {
	if err := vc.conn.SetWriteDeadline(time.Now().Add(vc.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(vc.writer, "*%d\r\n", len(args)+1)
	writeBulk(vc.writer, []byte(command))
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			writeBulk(vc.writer, []byte(v))
		case []byte:
			writeBulk(vc.writer, v)
		default:
			return fmt.Errorf("unsupported RESP argument %T", arg)
		}
	}
	return vc.writer.Flush()
}

// writeBulk relies on bufio.Writer's sticky error, surfaced by Flush.
func writeBulk(w *bufio.Writer, b []byte) {
	w.WriteString("$")
	w.WriteString(strconv.Itoa(len(b)))
	w.WriteString("\r\n")
	w.Write(b)
	w.WriteString("\r\n")
}

func (vc *valkeyConn) readReply() (respReply, error) {
	if err := vc.conn.SetReadDeadline(time.Now().Add(vc.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := vc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := vc.readLine()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		return respReply{typ: replySimpleString, data: line}, nil
	case '-':
		return respReply{}, ServerError(line)
	case ':':
		return respReply{typ: replyInteger, data: line}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length %q: %w", line, err)
		}
		if size < 0 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(vc.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string termination")
		}
		return respReply{typ: replyBulkString, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (vc *valkeyConn) readLine() ([]byte, error) {
	line, err := vc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")), nil
}
