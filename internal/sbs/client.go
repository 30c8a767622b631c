package sbs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/yegors/sbs-radar/pkg/logger"
	"golang.org/x/time/rate"
)

// Client reads a BaseStation feed from a single upstream TCP connection
type Client struct {
	addr        string
	dialTimeout time.Duration
	bufSize     int
	logger      *logger.Logger

	// Limits how often malformed lines are logged
	badLineLimiter *rate.Limiter

	mu        sync.Mutex
	connected bool
	lines     int64
	dropped   int64
}

// NewClient creates a new feed client for host:port
func NewClient(host string, port int, dialTimeout time.Duration, bufSize int, log *logger.Logger) *Client {
	return &Client{
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout:    dialTimeout,
		bufSize:        bufSize,
		logger:         log.Named("sbs-cli"),
		badLineLimiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// Name identifies the source in logs
func (c *Client) Name() string {
	return "sbs:" + c.addr
}

// Run connects, reads until the stream ends or ctx is done, and hands every
// parsed report to sink. It does not reconnect: when the upstream closes,
// Run returns and the owner decides what to do.
func (c *Client) Run(ctx context.Context, sink func(Report)) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	c.setConnected(true)
	defer c.setConnected(false)

	c.logger.Info("Connected to SBS feed", logger.String("addr", c.addr))

	// Unblock the read when ctx is cancelled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	err = ReadLines(ctx, conn, c.bufSize, func(line string) {
		c.handleLine(line, sink)
	})

	if ctx.Err() != nil {
		c.logger.Info("SBS client stopped", logger.String("addr", c.addr))
		return nil
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Error("SBS stream error", logger.Error(err), logger.String("addr", c.addr))
		return fmt.Errorf("stream error: %w", err)
	}

	c.logger.Info("SBS stream closed", logger.String("addr", c.addr))
	return nil
}

func (c *Client) handleLine(line string, sink func(Report)) {
	report, err := ParseLine(line)
	if err != nil {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		if c.badLineLimiter.Allow() {
			c.logger.Warn("Dropping malformed SBS line", logger.Error(err), logger.String("line", line))
		}
		return
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	c.mu.Lock()
	c.lines++
	c.mu.Unlock()

	sink(report)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Stats returns the connection state and line counters
func (c *Client) Stats() (connected bool, lines, dropped int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.lines, c.dropped
}
