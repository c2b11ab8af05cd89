package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible server
// speaking RESP2. Each call dials a fresh connection.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (c ValkeyConfig) withDefaults() ValkeyConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	return c
}

// NewValkeyProvider validates cfg and pings the server so bad credentials or
// an unreachable address fail at startup.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	p := &ValkeyProvider{cfg: cfg.withDefaults()}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return p, nil
}

// Get returns ErrCacheMiss when key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch reply.typ {
	case replyNil:
		return nil, ErrCacheMiss
	case replyBulkString:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected reply type %q for GET", reply.typ)
	}
}

// Set stores value with a millisecond TTL; ttl <= 0 stores without expiry.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := p.do(ctx, "SET", setArgs(key, value, ttl)...)
	if err != nil {
		return err
	}
	if !reply.ok() {
		return fmt.Errorf("unexpected SET response: %s", reply.data)
	}
	return nil
}

// SetNX stores value only if key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := p.do(ctx, "SET", append(setArgs(key, value, ttl), "NX")...)
	if err != nil {
		return false, err
	}
	switch reply.typ {
	case replySimpleString:
		return true, nil
	case replyNil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected SET NX response type %q", reply.typ)
	}
}

// Del removes key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Ping checks connectivity and credentials.
func (p *ValkeyProvider) Ping(ctx context.Context) error {
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.typ != replySimpleString || string(reply.data) != "PONG" {
		return fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return nil
}

// Close is a no-op; connections are per call.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration) []any {
	args := []any{key, value}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	return args
}

// do runs one command on a fresh authenticated connection, retrying
// transient network errors with exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, command string, args ...any) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return respReply{}, ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.roundTrip(ctx, command, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !shouldRetry(err) {
			break
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, command string, args []any) (respReply, error) {
	vc, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer vc.close()
	if err := p.bootstrap(vc); err != nil {
		return respReply{}, err
	}
	return vc.call(command, args...)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*valkeyConn, error) {
	dialer := &net.Dialer{Timeout: deadlineOr(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(p.cfg.Addr)},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return newValkeyConn(conn, p.cfg.ReadTimeout, p.cfg.WriteTimeout), nil
}

func (p *ValkeyProvider) bootstrap(vc *valkeyConn) error {
	if p.cfg.Password != "" {
		args := []any{p.cfg.Password}
		if p.cfg.Username != "" {
			args = []any{p.cfg.Username, p.cfg.Password}
		}
		reply, err := vc.call("AUTH", args...)
		if err != nil {
			return err
		}
		if !reply.ok() {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if p.cfg.DB > 0 {
		reply, err := vc.call("SELECT", strconv.Itoa(p.cfg.DB))
		if err != nil {
			return err
		}
		if !reply.ok() {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if remaining < d {
			return remaining
		}
	}
	return d
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func shouldRetry(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return strings.Trim(host, "[]")
}
