// Package irc is a minimal line client for Twitch chat over IRC.
package irc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultAddr = "irc.chat.twitch.tv:6667"

var ErrMissingCredentials = errors.New("irc credentials missing")

// Config holds login details. Token may omit the "oauth:" prefix.
type Config struct {
	Addr        string
	Nick        string
	Token       string
	Channel     string
	DialTimeout time.Duration
}

// Validate reports missing credentials.
func (c Config) Validate() error {
	var missing []string
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if c.Nick == "" {
		missing = append(missing, "nick")
	}
	if strings.TrimPrefix(c.Channel, "#") == "" {
		missing = append(missing, "channel")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Conn is one logged-in chat connection.
type Conn struct {
	conn   net.Conn
	tp     *textproto.Conn
	logger *zap.Logger

	writeMu sync.Mutex
}

// Dial connects, logs in and joins the channel.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Conn{conn: nc, tp: textproto.NewConn(nc), logger: logger}

	token := cfg.Token
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	channel := "#" + strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))

	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for _, line := range []string{"PASS " + token, "NICK " + cfg.Nick, "JOIN " + channel} {
		if err := c.WriteLine(loginCtx, line); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("irc login: %w", err)
		}
	}
	logger.Info("joined chat channel", zap.String("channel", channel), zap.String("addr", addr))
	return c, nil
}

// ReadLine returns the next line without its CRLF terminator.
func (c *Conn) ReadLine(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	line, err := c.tp.ReadLine()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	c.logger.Debug("irc>", zap.String("line", line))
	return line, nil
}

// WriteLine sends one CRLF-terminated line, bounded by ctx's deadline.
func (c *Conn) WriteLine(ctx context.Context, line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.tp.PrintfLine("%s", line)
}

// Close drops the connection, unblocking ReadLine.
func (c *Conn) Close() error {
	return c.tp.Close()
}
