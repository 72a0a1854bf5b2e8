// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package coder implements the Coder Gateway (C9): a plain TCP listener
// that accepts connections from barcode/QR/datamatrix scanners, buffers
// each endpoint's frames in arrival order, and exposes a start_scan
// primitive that opens a fixed collect window across every connected
// client and returns the union of what arrived.
package coder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	pkgerrors "github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"
)

// readyDelay is the fixed pause start_scan waits after clearing every
// client's buffer before it begins collecting, giving scanners time to
// settle on the new trigger. It is not configurable (§4.9).
const readyDelay = 500 * time.Millisecond

var (
	// ErrAlreadyStarted is returned by Start when the listener is already running.
	ErrAlreadyStarted = pkgerrors.New("coder gateway already started")
	// ErrNotStarted is returned by operations that require a running listener.
	ErrNotStarted = pkgerrors.New("coder gateway not started")
	// ErrScanInProgress is returned by StartScan when a collect window is already open.
	ErrScanInProgress = pkgerrors.New("scan already in progress")
)

// client holds one accepted connection's buffered frames and bookkeeping.
type client struct {
	endpoint string
	conn     net.Conn

	mu           sync.Mutex
	messages     []string
	lastActivity time.Time
	closed       bool
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *client) append(line string) {
	c.mu.Lock()
	c.messages = append(c.messages, line)
	c.mu.Unlock()
}

func (c *client) drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.messages
	c.messages = nil
	return out
}

func (c *client) clear() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

// disconnect closes the underlying socket. It is safe to call more than
// once; only the first call actually closes the connection (§4.9,
// "disconnect is idempotent").
func (c *client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}

// ClientSnapshot is a point-in-time view of one connected endpoint.
type ClientSnapshot struct {
	Endpoint     string    `json:"endpoint"`
	LastActivity time.Time `json:"lastActivity"`
	PendingLines int       `json:"pendingLines"`
}

// Status is the gateway's get_status() response.
type Status struct {
	ListenAddress   string    `json:"listenAddress"`
	ListenPort      int       `json:"listenPort"`
	ConnectionCount int       `json:"connectionCount"`
	MQTTConnected   bool      `json:"mqttConnected"`
	Timestamp       time.Time `json:"timestamp"`
}

// ScanResult is start_scan's response: the union of every endpoint's
// buffered frames, joined with ';', alongside the direction and stack
// height the caller supplied.
type ScanResult struct {
	Direction   string    `json:"direction"`
	StackHeight float64   `json:"stackHeight"`
	Codes       string    `json:"codes"`
	Timestamp   time.Time `json:"timestamp"`
}

// MQTTStatusFunc reports whether the bus client is currently connected, for
// get_status()'s mqttConnected field. The gateway has no MQTT dependency of
// its own; this keeps that coupling a single injected function.
type MQTTStatusFunc func() bool

// Gateway is the Coder Gateway (C9).
type Gateway struct {
	cfg       config.CoderConfig
	logger    *slog.Logger
	mqttState MQTTStatusFunc

	mu       sync.RWMutex
	listener net.Listener
	clients  map[string]*client
	scanning bool
	wg       sync.WaitGroup
}

// New constructs a Gateway from cfg. mqttState may be nil, in which case
// get_status() always reports mqttConnected false.
func New(cfg config.CoderConfig, logger *slog.Logger, mqttState MQTTStatusFunc) *Gateway {
	if mqttState == nil {
		mqttState = func() bool { return false }
	}
	return &Gateway{
		cfg:       cfg,
		logger:    logger,
		mqttState: mqttState,
		clients:   make(map[string]*client),
	}
}

// Start binds the listener and begins accepting connections. Accepts run on
// a background goroutine; Start returns once the listener is bound.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.listener != nil {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(g.cfg.SocketAddress, strconv.Itoa(g.cfg.SocketPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		g.mu.Unlock()
		return pkgerrors.Wrap(pkgerrors.New("listen "+addr), pkgerrors.New(err.Error()))
	}
	g.listener = ln
	g.mu.Unlock()

	g.logger.Info(fmt.Sprintf("coder: listening on %s (max_clients=%d)", addr, g.cfg.MaxClients))

	g.wg.Add(1)
	go g.acceptLoop(ctx, ln)

	return nil
}

func (g *Gateway) acceptLoop(ctx context.Context, ln net.Listener) {
	defer g.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			g.mu.RLock()
			stopped := g.listener == nil
			g.mu.RUnlock()
			if stopped {
				return
			}
			g.logger.Warn(fmt.Sprintf("coder: accept error: %s", err))
			continue
		}

		if g.clientCount() >= g.cfg.MaxClients {
			g.logger.Warn(fmt.Sprintf("coder: rejecting %s, at max_clients=%d", conn.RemoteAddr(), g.cfg.MaxClients))
			_ = conn.Close()
			continue
		}

		c := &client{endpoint: conn.RemoteAddr().String(), conn: conn, lastActivity: time.Now()}
		g.mu.Lock()
		g.clients[c.endpoint] = c
		g.mu.Unlock()

		g.wg.Add(1)
		go g.receiveLoop(c)
	}
}

// receiveLoop reads frames (newline-delimited, the common scanner-driver
// convention) from one connection until recv==0, an I/O error, or the
// client exceeds client_timeout_ms of inactivity, then removes it.
func (g *Gateway) receiveLoop(c *client) {
	defer g.wg.Done()
	defer g.removeClient(c)
	defer c.disconnect()

	timeout := g.cfg.ClientTimeout()
	reader := bufio.NewReaderSize(c.conn, max(g.cfg.ReceiveBufferSize, 1))

	for {
		if timeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		}

		line, err := reader.ReadString('\n')
		if line != "" {
			c.touch()
			c.append(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

func (g *Gateway) removeClient(c *client) {
	g.mu.Lock()
	if g.clients[c.endpoint] == c {
		delete(g.clients, c.endpoint)
	}
	g.mu.Unlock()
	g.logger.Info(fmt.Sprintf("coder: client %s disconnected", c.endpoint))
}

func (g *Gateway) clientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Stop closes the listener and every active connection. It is idempotent.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	ln := g.listener
	g.listener = nil
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	for _, c := range clients {
		c.disconnect()
	}
	g.wg.Wait()
	return err
}

// GetStatus returns the gateway's current connection count, listen
// address/port, MQTT connectivity, and timestamp.
func (g *Gateway) GetStatus() Status {
	return Status{
		ListenAddress:   g.cfg.SocketAddress,
		ListenPort:      g.cfg.SocketPort,
		ConnectionCount: g.clientCount(),
		MQTTConnected:   g.mqttState(),
		Timestamp:       time.Now().UTC(),
	}
}

// GetConnectedClients returns a per-endpoint snapshot of every connected client.
func (g *Gateway) GetConnectedClients() []ClientSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ClientSnapshot, 0, len(g.clients))
	for _, c := range g.clients {
		c.mu.Lock()
		out = append(out, ClientSnapshot{
			Endpoint:     c.endpoint,
			LastActivity: c.lastActivity,
			PendingLines: len(c.messages),
		})
		c.mu.Unlock()
	}
	return out
}

// StartScan clears every client's buffered messages, waits readyDelay for
// scanners to settle, then collects for the configured (or default 5s)
// window and returns the union of every endpoint's messages joined by ';'.
// The window always runs to completion; StartScan does not return early
// just because every client has replied (§4.9).
func (g *Gateway) StartScan(ctx context.Context, direction string, stackHeight float64) (ScanResult, error) {
	g.mu.Lock()
	if g.scanning {
		g.mu.Unlock()
		return ScanResult{}, ErrScanInProgress
	}
	g.scanning = true
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.scanning = false
		g.mu.Unlock()
	}()

	for _, c := range clients {
		c.clear()
	}

	select {
	case <-time.After(readyDelay):
	case <-ctx.Done():
		return ScanResult{}, ctx.Err()
	}

	window := g.cfg.ScanTimeout()
	select {
	case <-time.After(window):
	case <-ctx.Done():
		return ScanResult{}, ctx.Err()
	}

	var all []string
	for _, c := range clients {
		all = append(all, c.drain()...)
	}

	return ScanResult{
		Direction:   direction,
		StackHeight: stackHeight,
		Codes:       strings.Join(all, ";"),
		Timestamp:   time.Now().UTC(),
	}, nil
}

// Send writes msg, newline-terminated, to endpoint. Failure disconnects
// that endpoint but the error is still returned to the caller.
func (g *Gateway) Send(endpoint, msg string) error {
	g.mu.RLock()
	c, ok := g.clients[endpoint]
	g.mu.RUnlock()
	if !ok {
		return pkgerrors.New("unknown endpoint " + endpoint)
	}

	if _, err := fmt.Fprintf(c.conn, "%s\n", msg); err != nil {
		c.disconnect()
		return pkgerrors.Wrap(pkgerrors.New("send to "+endpoint), pkgerrors.New(err.Error()))
	}
	return nil
}

// Broadcast writes msg to every connected client. A write failure to one
// endpoint disconnects only that endpoint; Broadcast does not abort (§4.9).
func (g *Gateway) Broadcast(msg string) {
	g.mu.RLock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		if _, err := fmt.Fprintf(c.conn, "%s\n", msg); err != nil {
			g.logger.Warn(fmt.Sprintf("coder: broadcast to %s failed: %s", c.endpoint, err))
			c.disconnect()
		}
	}
}

// ClearQueue drops every client's buffered, not-yet-collected messages
// without starting a scan window.
func (g *Gateway) ClearQueue() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.clients {
		c.clear()
	}
}
