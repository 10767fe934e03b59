// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elcapor/tix/internal/blobstore"
	"github.com/elcapor/tix/internal/config"
	"github.com/elcapor/tix/internal/controller"
	"github.com/elcapor/tix/internal/logging"
	"github.com/elcapor/tix/internal/protocol"
	"github.com/elcapor/tix/internal/rdp"
	"github.com/elcapor/tix/internal/screenclient"
	"github.com/elcapor/tix/internal/screenhandshake"
	"github.com/elcapor/tix/internal/tixnet"
)

func main() {
	configPath := flag.String("config", "/etc/tix/controller.yaml", "path to controller config file")
	flag.Parse()

	cfg, err := config.LoadControllerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	ctl, err := newControllerRuntime(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to initialise controller", "error", err)
		os.Exit(1)
	}

	if err := ctl.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("controller exited with error", "error", err)
		os.Exit(1)
	}
}

type controllerRuntime struct {
	cfg    config.ControllerConfig
	logger *slog.Logger
	blobs  *blobstore.Store
}

func newControllerRuntime(ctx context.Context, cfg config.ControllerConfig, logger *slog.Logger) (*controllerRuntime, error) {
	ctl := &controllerRuntime{cfg: cfg, logger: logger}

	if cfg.Blobstore.Enabled {
		store, err := blobstore.New(ctx, blobstore.Config{
			Bucket:          cfg.Blobstore.Bucket,
			Region:          cfg.Blobstore.Region,
			Endpoint:        cfg.Blobstore.Endpoint,
			AccessKeyID:     cfg.Blobstore.AccessKeyID,
			SecretAccessKey: cfg.Blobstore.SecretAccessKey,
			UsePathStyle:    cfg.Blobstore.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring blobstore: %w", err)
		}
		ctl.blobs = store
	}
	return ctl, nil
}

// run accepts agent connections until ctx is cancelled, following the
// teacher's backoff accept loop so a burst of transient accept errors
// doesn't spin the process hot.
func (ctl *controllerRuntime) run(ctx context.Context) error {
	ln, err := ctl.listen()
	if err != nil {
		return err
	}
	defer ln.Close()
	ctl.logger.Info("controller listening", "address", ctl.cfg.Listen.Address)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				ctl.logger.Info("controller shutdown complete")
				return nil
			}
			consecutiveErrors++
			ctl.logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
			delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
			if delay > 5*time.Second {
				delay = 5 * time.Second
			}
			time.Sleep(delay)
			continue
		}
		consecutiveErrors = 0
		go ctl.handleAgent(ctx, conn)
	}
}

// listen opens the agent-facing listener, over mutual TLS when configured.
func (ctl *controllerRuntime) listen() (net.Listener, error) {
	var ln net.Listener
	var err error
	if ctl.cfg.TLS.Enabled {
		ln, err = tixnet.ListenTLS(ctl.cfg.Listen.Address, ctl.cfg.TLS.ClientCA, ctl.cfg.TLS.Cert, ctl.cfg.TLS.Key)
	} else {
		ln, err = net.Listen("tcp", ctl.cfg.Listen.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", ctl.cfg.Listen.Address, err)
	}
	return ln, nil
}

// handleAgent serves one connected agent with its own outstanding-request
// tracker and periodic deadline sweep.
func (ctl *controllerRuntime) handleAgent(ctx context.Context, conn net.Conn) {
	logger := logging.WithConnection(ctl.logger, conn.RemoteAddr().String())
	c := tixnet.New(conn, logger)
	defer c.Close()

	defaultTimeout := ctl.cfg.Requests.DefaultTimeout
	state := controller.New(&defaultTimeout)
	logger.Info("agent connected")

	sweep := time.NewTicker(ctl.cfg.Requests.SweepInterval)
	defer sweep.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-sweep.C:
				for _, expired := range state.DrainExpired() {
					logger.Warn("request timed out",
						"request_id", expired.ID,
						"elapsed", time.Since(expired.Request.SentAt))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() { <-done }()

	for {
		packet, ok := c.Recv()
		if !ok {
			logger.Info("agent disconnected")
			return
		}
		ctl.dispatchResponse(ctx, conn, c, state, logger, packet)
	}
}

func (ctl *controllerRuntime) dispatchResponse(ctx context.Context, conn net.Conn, c *tixnet.Connection, state *controller.State, logger *slog.Logger, p protocol.Packet) {
	if p.Header.RequestID == 0 {
		return // heartbeat
	}

	tracked, ok := state.Resolve(p.Header.RequestID)
	if !ok {
		logger.Debug("response for unknown or already-resolved request", "request_id", p.Header.RequestID)
		return
	}

	switch p.Header.Command {
	case protocol.CmdFileDownload:
		ctl.handleFileDownloadResponse(ctx, tracked, logger, p)

	case protocol.CmdFileUpload:
		chunk, err := protocol.UnmarshalFileHashVerification(p.Payload)
		if err != nil {
			logger.Warn("malformed file upload ack", "error", err)
			return
		}
		logger.Info("file upload acknowledged", "request_id", p.Header.RequestID, "bytes", chunk.TotalBytes)

	case protocol.CmdScreenStart:
		resp, err := protocol.UnmarshalScreenConfig(p.Payload)
		if err != nil {
			logger.Warn("malformed screen config response", "error", err)
			return
		}
		go ctl.startScreenSession(ctx, conn.RemoteAddr(), resp, logger)

	case protocol.CmdSystemInfo:
		info, err := protocol.UnmarshalSystemInfoResponse(p.Payload)
		if err != nil {
			logger.Warn("malformed system info response", "error", err)
			return
		}
		logger.Info("system info", "hostname", info.Hostname, "os", info.OS, "cpu_percent", info.CPUPercent)

	default:
		logger.Debug("response received",
			"command", p.Header.Command,
			"request_id", p.Header.RequestID,
			"latency", time.Since(tracked.SentAt))
	}
}

// handleFileDownloadResponse stages a downloaded file's bytes into the
// blobstore when one is configured, keyed by the originally-requested
// path; otherwise it just logs receipt, the direct-streaming fallback
// described in SPEC_FULL.md's domain-stack table.
func (ctl *controllerRuntime) handleFileDownloadResponse(ctx context.Context, tracked controller.TrackedRequest, logger *slog.Logger, p protocol.Packet) {
	chunk, err := protocol.UnmarshalFileChunk(p.Payload)
	if err != nil {
		logger.Warn("malformed file download response", "error", err)
		return
	}

	if ctl.blobs == nil {
		logger.Info("file download received (no blobstore configured)", "bytes", len(chunk.Data))
		return
	}

	origReq, err := protocol.UnmarshalFileTransferRequest(tracked.Packet.Payload)
	if err != nil {
		logger.Warn("could not recover original path for staging key", "error", err)
		return
	}

	key := fmt.Sprintf("downloads%s", origReq.Path)
	etag, err := ctl.blobs.Upload(ctx, key, bytes.NewReader(chunk.Data))
	if err != nil {
		logger.Warn("staging downloaded file failed", "key", key, "error", err)
		return
	}
	logger.Info("staged downloaded file", "key", key, "bytes", len(chunk.Data), "etag", etag)
}

// startScreenSession runs the controller side of the §6 handshake against
// the agent's screen-handshake listener, then runs a screenclient.Client
// over the resulting UDP transport until ctx is cancelled.
func (ctl *controllerRuntime) startScreenSession(ctx context.Context, agentAddr net.Addr, cfg protocol.ScreenConfig, logger *slog.Logger) {
	agentIP := agentAddr.(*net.TCPAddr).IP
	handshakeAddr := &net.TCPAddr{IP: agentIP, Port: int(cfg.UDPPort)}

	hsConn, err := net.DialTimeout("tcp", handshakeAddr.String(), 10*time.Second)
	if err != nil {
		logger.Warn("failed to dial agent screen handshake port", "error", err)
		return
	}
	defer hsConn.Close()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		logger.Warn("failed to open screen udp socket", "error", err)
		return
	}
	defer udpConn.Close()
	localUDPPort := udpConn.LocalAddr().(*net.UDPAddr).Port

	// The agent dials out to this socket's port (learned via the handshake
	// below), so udpConn is kept unconnected and used directly as the
	// receiver: net.UDPConn.Read accepts datagrams from any sender.
	if _, err := screenhandshake.Negotiate(hsConn, uint16(localUDPPort)); err != nil {
		logger.Warn("screen handshake failed", "error", err)
		return
	}

	receiver := rdp.NewReceiver(udpConn, rdp.DefaultMTU)

	sessionLogger := logging.WithScreenSession(logger, fmt.Sprintf("%s-%d", agentIP, time.Now().Unix()))
	client := screenclient.NewClient(receiver, cfg.Format, sessionLogger)
	defer client.Close()

	if err := client.Run(ctx); err != nil {
		sessionLogger.Debug("screen client stopped", "error", err)
	}
}
