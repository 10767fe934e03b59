// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lukechampine.com/blake3"

	"github.com/elcapor/tix/internal/agentstate"
	"github.com/elcapor/tix/internal/capture"
	"github.com/elcapor/tix/internal/config"
	"github.com/elcapor/tix/internal/logging"
	"github.com/elcapor/tix/internal/protocol"
	"github.com/elcapor/tix/internal/rdp"
	"github.com/elcapor/tix/internal/screenhandshake"
	"github.com/elcapor/tix/internal/sysinfo"
	"github.com/elcapor/tix/internal/taskpool"
	"github.com/elcapor/tix/internal/tixnet"
	"github.com/elcapor/tix/internal/updatecron"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/tix/agent.yaml", "path to agent config file")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	agent := newAgentRuntime(*cfg, logger)
	if err := agent.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

type agentRuntime struct {
	cfg    config.AgentConfig
	logger *slog.Logger
	state  *agentstate.State
	tasks  *taskpool.Pool
	sysmon *sysinfo.Monitor
}

func newAgentRuntime(cfg config.AgentConfig, logger *slog.Logger) *agentRuntime {
	local := tixnet.Capabilities{
		ShellStreaming: true,
		FileDeltaSync:  true,
		ScreenCapture:  true,
		Compression:    true,
		MaxPayloadSize: protocol.MaxPayloadSize,
	}
	return &agentRuntime{
		cfg:    cfg,
		logger: logger,
		state:  agentstate.New(local),
		tasks:  taskpool.New(logger, 64),
		sysmon: sysinfo.NewMonitor(sysinfo.DefaultInterval, logger),
	}
}

func (a *agentRuntime) run(ctx context.Context) error {
	a.sysmon.Start()
	defer a.sysmon.Stop()
	defer a.tasks.Close()

	if a.cfg.UpdateCheck.Enabled {
		updater, err := updatecron.NewScheduler(a.cfg.UpdateCheck.Schedule, version, a.checkForUpdate, a.logger)
		if err != nil {
			a.logger.Warn("failed to start update scheduler", "error", err)
		} else {
			updater.Start()
			defer updater.Stop(context.Background())
		}
	}

	for ctx.Err() == nil {
		if err := a.connectOnce(ctx); err != nil {
			a.logger.Warn("connection attempt failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.Connect.ReconnectDelay):
		}
	}
	return ctx.Err()
}

// checkForUpdate is a placeholder update source: without an update
// distribution endpoint in scope, it reports the current version as
// already latest.
func (a *agentRuntime) checkForUpdate(ctx context.Context) (string, error) {
	return version, nil
}

func (a *agentRuntime) connectOnce(ctx context.Context) error {
	a.state.Phase.Transition(tixnet.PhaseConnecting)

	conn, err := a.dial(ctx)
	if err != nil {
		a.state.Phase.ForceDisconnect()
		return fmt.Errorf("dial controller: %w", err)
	}

	connLogger := logging.WithConnection(a.logger, conn.RemoteAddr().String())
	c := tixnet.New(conn, connLogger)
	defer c.Close()

	a.state.Phase.Transition(tixnet.PhaseHandshaking)
	if !c.Send(protocol.Heartbeat()) {
		a.state.Phase.ForceDisconnect()
		return fmt.Errorf("handshake: connection closed before hello")
	}
	a.state.Phase.Transition(tixnet.PhaseConnected)
	connLogger.Info("connected to controller")

	for {
		packet, ok := c.Recv()
		if !ok {
			a.state.Phase.ForceDisconnect()
			return fmt.Errorf("connection closed")
		}
		a.dispatch(ctx, c, connLogger, packet)
	}
}

// dial opens the control connection, over mutual TLS when configured.
func (a *agentRuntime) dial(ctx context.Context) (net.Conn, error) {
	if !a.cfg.TLS.Enabled {
		dialer := net.Dialer{Timeout: 10 * time.Second}
		return dialer.DialContext(ctx, "tcp", a.cfg.Connect.Address)
	}
	return tixnet.DialTLS(ctx, a.cfg.Connect.Address, a.cfg.TLS.CACert, a.cfg.TLS.ClientCert, a.cfg.TLS.ClientKey, 10*time.Second)
}

func (a *agentRuntime) dispatch(ctx context.Context, c *tixnet.Connection, logger *slog.Logger, p protocol.Packet) {
	if p.Header.RequestID == 0 {
		return // heartbeat, nothing to do
	}

	switch p.Header.Command {
	case protocol.CmdPing:
		resp, _ := protocol.NewResponse(protocol.CmdPing, p.Header.RequestID, 0, nil)
		c.Send(resp)

	case protocol.CmdSystemInfo:
		info := a.sysmon.Info()
		resp, _ := protocol.NewResponse(protocol.CmdSystemInfo, p.Header.RequestID, 0, info.Marshal())
		c.Send(resp)

	case protocol.CmdSystemProcessList:
		id := p.Header.RequestID
		if !a.state.RegisterTask(id) {
			return
		}
		a.tasks.SpawnWithOptions(id, func(taskCtx context.Context) error {
			defer a.state.CompleteTask(id)
			list, err := sysinfo.ProcessList(taskCtx)
			if err != nil {
				resp, _ := protocol.NewResponse(protocol.CmdSystemProcessList, id, 0, nil)
				c.Send(resp)
				return err
			}
			resp, _ := protocol.NewResponse(protocol.CmdSystemProcessList, id, 0, list.Marshal())
			c.Send(resp)
			return nil
		}, taskpool.Options{Name: "system.process_list", Deadline: 10 * time.Second})

	case protocol.CmdFileDownload:
		a.handleFileDownload(c, logger, p)

	case protocol.CmdFileUpload:
		a.handleFileUpload(c, logger, p)

	case protocol.CmdScreenStart:
		a.handleScreenStart(ctx, c, logger, p)

	default:
		logger.Debug("unhandled command", "command", p.Header.Command)
	}
}

// handleFileDownload reads the requested local path and returns its
// content as a single FileChunk response. Files larger than
// protocol.MaxPayloadSize fall outside this minimal single-shot handler
// and are rejected; a true resumable transfer uses CmdFileRead instead.
func (a *agentRuntime) handleFileDownload(c *tixnet.Connection, logger *slog.Logger, p protocol.Packet) {
	req, err := protocol.UnmarshalFileTransferRequest(p.Payload)
	if err != nil {
		logger.Warn("malformed file download request", "error", err)
		return
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		logger.Warn("file download failed", "path", req.Path, "error", err)
		resp, _ := protocol.NewResponse(protocol.CmdFileDownload, p.Header.RequestID, 0, nil)
		c.Send(resp)
		return
	}
	if len(data) > protocol.MaxPayloadSize {
		logger.Warn("file too large for single-shot download", "path", req.Path, "size", len(data))
		resp, _ := protocol.NewResponse(protocol.CmdFileDownload, p.Header.RequestID, 0, nil)
		c.Send(resp)
		return
	}

	chunk := protocol.FileChunk{Offset: 0, ChunkIndex: 0, Data: data}
	resp, _ := protocol.NewResponse(protocol.CmdFileDownload, p.Header.RequestID, protocol.FlagFinalFragment, chunk.Marshal())
	c.Send(resp)
}

// handleFileUpload writes data already held by the caller (typically
// fetched from blobstore staging on the controller side) to the requested
// local path, then acknowledges with a hash verification.
func (a *agentRuntime) handleFileUpload(c *tixnet.Connection, logger *slog.Logger, p protocol.Packet) {
	req, err := protocol.UnmarshalFileUploadRequest(p.Payload)
	if err != nil {
		logger.Warn("malformed file upload request", "error", err)
		return
	}

	if err := os.WriteFile(req.Path, req.Data, 0644); err != nil {
		logger.Warn("file upload failed", "path", req.Path, "error", err)
		resp, _ := protocol.NewResponse(protocol.CmdFileUpload, p.Header.RequestID, 0, nil)
		c.Send(resp)
		return
	}

	ack := protocol.FileHashVerification{
		Blake3Hash:  blake3.Sum256(req.Data),
		TotalBytes:  uint64(len(req.Data)),
		TotalChunks: 1,
	}
	resp, _ := protocol.NewResponse(protocol.CmdFileUpload, p.Header.RequestID, protocol.FlagFinalFragment, ack.Marshal())
	c.Send(resp)
}

// handleScreenStart implements the agent side of a screen session. The
// ScreenStart response carries the port of a one-shot TCP listener (§6);
// the controller dials it to run the control handshake that exchanges
// UDP ports before either side touches the datagram transport.
func (a *agentRuntime) handleScreenStart(ctx context.Context, c *tixnet.Connection, logger *slog.Logger, p protocol.Packet) {
	req, err := protocol.UnmarshalScreenStartRequest(p.Payload)
	if err != nil {
		logger.Warn("malformed screen start request", "error", err)
		return
	}

	handshakeLn, err := net.Listen("tcp", ":0")
	if err != nil {
		logger.Warn("failed to open screen handshake listener", "error", err)
		return
	}

	port := handshakeLn.Addr().(*net.TCPAddr).Port
	resp := protocol.ScreenConfig{
		Width: 1920, Height: 1080, FPS: req.TargetFPS,
		Format: req.Format, Monitor: req.Monitor, UDPPort: uint16(port),
	}
	reply, _ := protocol.NewResponse(protocol.CmdScreenStart, p.Header.RequestID, 0, resp.Marshal())
	c.Send(reply)

	go a.runScreenSession(ctx, handshakeLn, req, logger)
}

func (a *agentRuntime) runScreenSession(ctx context.Context, handshakeLn net.Listener, req protocol.ScreenStartRequest, logger *slog.Logger) {
	defer handshakeLn.Close()

	handshakeLn.(*net.TCPListener).SetDeadline(time.Now().Add(30 * time.Second))
	hsConn, err := handshakeLn.Accept()
	if err != nil {
		logger.Warn("controller never dialed screen handshake port", "error", err)
		return
	}
	defer hsConn.Close()

	// The reported "agent UDP send port" must be the actual source port of
	// the dial below, so the controller's port is read first, the dial
	// happens next, and only then is the resulting source port reported
	// back (§6) — unlike the controller, which already knows its receive
	// port before the exchange starts.
	controllerUDPPort, err := screenhandshake.ReadPort(hsConn)
	if err != nil {
		logger.Warn("screen handshake failed reading controller port", "error", err)
		return
	}

	controllerIP := hsConn.RemoteAddr().(*net.TCPAddr).IP
	dialedConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: controllerIP, Port: int(controllerUDPPort)})
	if err != nil {
		logger.Warn("failed to dial controller udp endpoint", "error", err)
		return
	}
	defer dialedConn.Close()

	if err := screenhandshake.WritePort(hsConn, uint16(dialedConn.LocalAddr().(*net.UDPAddr).Port)); err != nil {
		logger.Warn("screen handshake failed writing agent send port", "error", err)
		return
	}

	capturer, err := capture.NewPlatformCapturer()
	if err != nil {
		logger.Warn("failed to acquire capturer", "error", err)
		return
	}
	defer capturer.Close()

	sender, err := rdp.NewSender(dialedConn, a.cfg.Screen.MTU)
	if err != nil {
		logger.Warn("failed to build screen sender", "error", err)
		return
	}
	if err := sender.SetDSCP(a.cfg.Screen.DSCP); err != nil {
		logger.Debug("failed to apply DSCP marking", "error", err)
	}

	go a.drainInputEvents(hsConn, logger)

	svc := capture.NewService(capture.Config{
		TargetFPS:       int(req.TargetFPS),
		TargetBandwidth: a.cfg.Screen.TargetBandwidth,
		BlockSize:       a.cfg.Screen.BlockSize,
	}, capturer, sender, logger)
	defer svc.Close()

	if err := svc.Run(ctx); err != nil {
		logger.Debug("screen capture service stopped", "error", err)
	}
}

// drainInputEvents reads forwarded input events off the handshake stream
// until it closes. Actual injection is a native collaborator out of scope
// here (§6) — events are logged at debug level.
func (a *agentRuntime) drainInputEvents(hsConn net.Conn, logger *slog.Logger) {
	for {
		ev, err := screenhandshake.ReadInputEvent(hsConn)
		if err != nil {
			return
		}
		switch ev.Tag {
		case screenhandshake.TagMouse:
			logger.Debug("mouse input event received", "event", ev.Mouse)
		case screenhandshake.TagKey:
			logger.Debug("keyboard input event received", "event", ev.Key)
		}
	}
}
