package cache

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeValkey is a minimal RESP2 server supporting the commands the provider issues.
type fakeValkey struct {
	ln       net.Listener
	password string

	mu   sync.Mutex
	data map[string]string
	cmds []string
}

func startFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeValkey{ln: ln, password: password, data: map[string]string{}}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := f.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.cmds = append(f.cmds, strings.ToUpper(args[0]))
		reply := f.exec(args, &authed)
		f.mu.Unlock()
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (f *fakeValkey) exec(args []string, authed *bool) string {
	cmd := strings.ToUpper(args[0])
	if cmd == "AUTH" {
		if args[len(args)-1] == f.password {
			*authed = true
			return "+OK\r\n"
		}
		return "-WRONGPASS invalid password\r\n"
	}
	if !*authed {
		return "-NOAUTH Authentication required\r\n"
	}
	switch cmd {
	case "PING":
		return "+PONG\r\n"
	case "GET":
		v, ok := f.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return "$" + strconv.Itoa(len(v)) + "\r\n" + v + "\r\n"
	case "SET":
		nx := strings.EqualFold(args[len(args)-1], "NX")
		if _, exists := f.data[args[1]]; nx && exists {
			return "$-1\r\n"
		}
		f.data[args[1]] = args[2]
		return "+OK\r\n"
	case "DEL":
		delete(f.data, args[1])
		return ":1\r\n"
	default:
		return "-ERR unknown command\r\n"
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, n)
	for i := range args {
		lenLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(lenLine[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args[i] = string(buf[:size])
	}
	return args, nil
}

func TestValkeyProviderCommands(t *testing.T) {
	srv := startFakeValkey(t, "")
	ctx := context.Background()

	p, err := NewValkeyProvider(ctx, ValkeyConfig{Addr: srv.ln.Addr().String()})
	require.NoError(t, err)

	_, err = p.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	payload := []byte("line one\r\nline two")
	require.NoError(t, p.Set(ctx, "k", payload, time.Minute))
	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	ok, err := p.SetNX(ctx, "k", []byte("other"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Del(ctx, "k"))
	ok, err = p.SetNX(ctx, "k", []byte("other"), 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValkeyProviderAuth(t *testing.T) {
	srv := startFakeValkey(t, "s3cret")
	ctx := context.Background()

	_, err := NewValkeyProvider(ctx, ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "wrong"})
	require.Error(t, err)
	var serverErr ServerError
	assert.ErrorAs(t, err, &serverErr)

	p, err := NewValkeyProvider(ctx, ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "s3cret"})
	require.NoError(t, err)
	require.NoError(t, p.Ping(ctx))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.cmds, "AUTH")
}

func TestNewValkeyProviderRequiresAddr(t *testing.T) {
	_, err := NewValkeyProvider(context.Background(), ValkeyConfig{})
	assert.Error(t, err)
}

func TestValkeyConfigDefaults(t *testing.T) {
	cfg := ValkeyConfig{}.withDefaults()
	assert.Equal(t, 2*time.Second, cfg.DialTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ReadTimeout)
	assert.Equal(t, 1, cfg.MaxRetries)
}
