// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

// PixelFormat enumerates the raw frame pixel layouts the capture/encode
// pipeline understands.
type PixelFormat uint8

const (
	PixelFormatBGRA8 PixelFormat = iota
	PixelFormatRGBA8
	PixelFormatRGB8
)

// BytesPerPixel returns the stride contribution of one pixel in this
// format.
func (f PixelFormat) BytesPerPixel() int {
	if f == PixelFormatRGB8 {
		return 3
	}
	return 4
}

// ShellExecuteRequest is the payload of a ShellExecute request.
type ShellExecuteRequest struct {
	Command    string
	PTY        bool
	TimeoutMs  uint64
	Env        map[string]string
	WorkingDir *string
}

func (p ShellExecuteRequest) Marshal() []byte {
	w := NewWriter()
	w.String(p.Command)
	w.Bool(p.PTY)
	w.U64(p.TimeoutMs)
	w.StringMap(p.Env)
	w.OptionalString(p.WorkingDir)
	return w.Bytes()
}

func UnmarshalShellExecuteRequest(data []byte) (ShellExecuteRequest, error) {
	r := NewReader(data)
	var p ShellExecuteRequest
	var err error
	if p.Command, err = r.String(); err != nil {
		return p, err
	}
	if p.PTY, err = r.Bool(); err != nil {
		return p, err
	}
	if p.TimeoutMs, err = r.U64(); err != nil {
		return p, err
	}
	if p.Env, err = r.StringMap(); err != nil {
		return p, err
	}
	if p.WorkingDir, err = r.OptionalString(); err != nil {
		return p, err
	}
	return p, nil
}

// ShellOutputChunk is one STREAMING fragment of live shell output.
type ShellOutputChunk struct {
	ChunkNumber uint64
	Data        []byte
	IsStdout    bool
}

func (p ShellOutputChunk) Marshal() []byte {
	w := NewWriter()
	w.U64(p.ChunkNumber)
	w.Bytes_(p.Data)
	w.Bool(p.IsStdout)
	return w.Bytes()
}

func UnmarshalShellOutputChunk(data []byte) (ShellOutputChunk, error) {
	r := NewReader(data)
	var p ShellOutputChunk
	var err error
	if p.ChunkNumber, err = r.U64(); err != nil {
		return p, err
	}
	if p.Data, err = r.Bytes(); err != nil {
		return p, err
	}
	if p.IsStdout, err = r.Bool(); err != nil {
		return p, err
	}
	return p, nil
}

// ShellExitStatus is the FINAL_FRAGMENT terminator of a ShellExecute
// response stream.
type ShellExitStatus struct {
	ExitCode    int32
	TotalChunks uint64
	Error       *string
}

func (p ShellExitStatus) Marshal() []byte {
	w := NewWriter()
	w.I64(int64(p.ExitCode))
	w.U64(p.TotalChunks)
	w.OptionalString(p.Error)
	return w.Bytes()
}

func UnmarshalShellExitStatus(data []byte) (ShellExitStatus, error) {
	r := NewReader(data)
	var p ShellExitStatus
	code, err := r.I64()
	if err != nil {
		return p, err
	}
	p.ExitCode = int32(code)
	if p.TotalChunks, err = r.U64(); err != nil {
		return p, err
	}
	if p.Error, err = r.OptionalString(); err != nil {
		return p, err
	}
	return p, nil
}

// FileTransferRequest requests a file by path.
type FileTransferRequest struct {
	Path      string
	ChunkSize uint32
}

func (p FileTransferRequest) Marshal() []byte {
	w := NewWriter()
	w.String(p.Path)
	w.U32(p.ChunkSize)
	return w.Bytes()
}

func UnmarshalFileTransferRequest(data []byte) (FileTransferRequest, error) {
	r := NewReader(data)
	var p FileTransferRequest
	var err error
	if p.Path, err = r.String(); err != nil {
		return p, err
	}
	if p.ChunkSize, err = r.U32(); err != nil {
		return p, err
	}
	return p, nil
}

// FileUploadRequest pushes data to be written at Path on the receiving
// side, used when the caller already holds the bytes in hand (e.g. fetched
// from blobstore staging) rather than streaming them from disk.
type FileUploadRequest struct {
	Path string
	Data []byte
}

func (p FileUploadRequest) Marshal() []byte {
	w := NewWriter()
	w.String(p.Path)
	w.Bytes_(p.Data)
	return w.Bytes()
}

func UnmarshalFileUploadRequest(data []byte) (FileUploadRequest, error) {
	r := NewReader(data)
	var p FileUploadRequest
	var err error
	if p.Path, err = r.String(); err != nil {
		return p, err
	}
	if p.Data, err = r.Bytes(); err != nil {
		return p, err
	}
	return p, nil
}

// FileTransferHeader is the first streamed packet of a file-read response.
type FileTransferHeader struct {
	Path         string
	Size         uint64
	Modified     int64
	Permissions  uint32
	IsDirectory  bool
	TotalChunks  uint64
	ChunkSize    uint32
}

func (p FileTransferHeader) Marshal() []byte {
	w := NewWriter()
	w.String(p.Path)
	w.U64(p.Size)
	w.I64(p.Modified)
	w.U32(p.Permissions)
	w.Bool(p.IsDirectory)
	w.U64(p.TotalChunks)
	w.U32(p.ChunkSize)
	return w.Bytes()
}

func UnmarshalFileTransferHeader(data []byte) (FileTransferHeader, error) {
	r := NewReader(data)
	var p FileTransferHeader
	var err error
	if p.Path, err = r.String(); err != nil {
		return p, err
	}
	if p.Size, err = r.U64(); err != nil {
		return p, err
	}
	if p.Modified, err = r.I64(); err != nil {
		return p, err
	}
	if p.Permissions, err = r.U32(); err != nil {
		return p, err
	}
	if p.IsDirectory, err = r.Bool(); err != nil {
		return p, err
	}
	if p.TotalChunks, err = r.U64(); err != nil {
		return p, err
	}
	if p.ChunkSize, err = r.U32(); err != nil {
		return p, err
	}
	return p, nil
}

// FileChunk is one streamed fragment of file data.
type FileChunk struct {
	Offset     uint64
	ChunkIndex uint64
	Data       []byte
}

func (p FileChunk) Marshal() []byte {
	w := NewWriter()
	w.U64(p.Offset)
	w.U64(p.ChunkIndex)
	w.Bytes_(p.Data)
	return w.Bytes()
}

func UnmarshalFileChunk(data []byte) (FileChunk, error) {
	r := NewReader(data)
	var p FileChunk
	var err error
	if p.Offset, err = r.U64(); err != nil {
		return p, err
	}
	if p.ChunkIndex, err = r.U64(); err != nil {
		return p, err
	}
	if p.Data, err = r.Bytes(); err != nil {
		return p, err
	}
	return p, nil
}

// FileHashVerification is the FINAL_FRAGMENT terminator of a file-read
// response stream.
type FileHashVerification struct {
	Blake3Hash  [32]byte
	TotalBytes  uint64
	TotalChunks uint64
}

func (p FileHashVerification) Marshal() []byte {
	w := NewWriter()
	w.Bytes_(p.Blake3Hash[:])
	w.U64(p.TotalBytes)
	w.U64(p.TotalChunks)
	return w.Bytes()
}

func UnmarshalFileHashVerification(data []byte) (FileHashVerification, error) {
	r := NewReader(data)
	var p FileHashVerification
	hash, err := r.Bytes()
	if err != nil {
		return p, err
	}
	copy(p.Blake3Hash[:], hash)
	if p.TotalBytes, err = r.U64(); err != nil {
		return p, err
	}
	if p.TotalChunks, err = r.U64(); err != nil {
		return p, err
	}
	return p, nil
}

// DeltaChunkInfo names one chunk's known hash for delta-sync comparison.
type DeltaChunkInfo struct {
	ChunkIndex uint64
	Blake3Hash [32]byte
}

// DeltaSyncRequest asks the peer to send only chunks whose hash differs
// from the ones already held locally.
type DeltaSyncRequest struct {
	Path       string
	ChunkSize  uint32
	ChunkHashes []DeltaChunkInfo
}

func (p DeltaSyncRequest) Marshal() []byte {
	w := NewWriter()
	w.String(p.Path)
	w.U32(p.ChunkSize)
	w.U32(uint32(len(p.ChunkHashes)))
	for _, c := range p.ChunkHashes {
		w.U64(c.ChunkIndex)
		w.Bytes_(c.Blake3Hash[:])
	}
	return w.Bytes()
}

func UnmarshalDeltaSyncRequest(data []byte) (DeltaSyncRequest, error) {
	r := NewReader(data)
	var p DeltaSyncRequest
	var err error
	if p.Path, err = r.String(); err != nil {
		return p, err
	}
	if p.ChunkSize, err = r.U32(); err != nil {
		return p, err
	}
	n, err := r.U32()
	if err != nil {
		return p, err
	}
	p.ChunkHashes = make([]DeltaChunkInfo, n)
	for i := range p.ChunkHashes {
		idx, err := r.U64()
		if err != nil {
			return p, err
		}
		hash, err := r.Bytes()
		if err != nil {
			return p, err
		}
		var c DeltaChunkInfo
		c.ChunkIndex = idx
		copy(c.Blake3Hash[:], hash)
		p.ChunkHashes[i] = c
	}
	return p, nil
}

// ScreenStartRequest asks the agent to begin streaming its screen.
type ScreenStartRequest struct {
	Monitor     uint32
	TargetFPS   uint32
	Format      PixelFormat
	Compression bool
}

func (p ScreenStartRequest) Marshal() []byte {
	w := NewWriter()
	w.U32(p.Monitor)
	w.U32(p.TargetFPS)
	w.U8(uint8(p.Format))
	w.Bool(p.Compression)
	return w.Bytes()
}

func UnmarshalScreenStartRequest(data []byte) (ScreenStartRequest, error) {
	r := NewReader(data)
	var p ScreenStartRequest
	var err error
	if p.Monitor, err = r.U32(); err != nil {
		return p, err
	}
	if p.TargetFPS, err = r.U32(); err != nil {
		return p, err
	}
	fmtByte, err := r.U8()
	if err != nil {
		return p, err
	}
	p.Format = PixelFormat(fmtByte)
	if p.Compression, err = r.Bool(); err != nil {
		return p, err
	}
	return p, nil
}

// ScreenConfig is the negotiated response to ScreenStartRequest. UDPPort
// carries the agent's screen-handshake TCP listener port (§6), not a raw
// UDP port directly: the controller dials that port to run the port
// exchange described in §6 before either side touches a datagram socket.
type ScreenConfig struct {
	Width       uint32
	Height      uint32
	FPS         uint32
	Format      PixelFormat
	Monitor     uint32
	UDPPort     uint16
}

func (p ScreenConfig) Marshal() []byte {
	w := NewWriter()
	w.U32(p.Width)
	w.U32(p.Height)
	w.U32(p.FPS)
	w.U8(uint8(p.Format))
	w.U32(p.Monitor)
	w.U16(p.UDPPort)
	return w.Bytes()
}

func UnmarshalScreenConfig(data []byte) (ScreenConfig, error) {
	r := NewReader(data)
	var p ScreenConfig
	var err error
	if p.Width, err = r.U32(); err != nil {
		return p, err
	}
	if p.Height, err = r.U32(); err != nil {
		return p, err
	}
	if p.FPS, err = r.U32(); err != nil {
		return p, err
	}
	fmtByte, err := r.U8()
	if err != nil {
		return p, err
	}
	p.Format = PixelFormat(fmtByte)
	if p.Monitor, err = r.U32(); err != nil {
		return p, err
	}
	if p.UDPPort, err = r.U16(); err != nil {
		return p, err
	}
	return p, nil
}

// ScreenFrame is the TCP-path serialised screen frame payload, distinct
// from the UDP delta-payload wire format used by TixRP (§9 open question):
// the two are kept separate rather than unified.
type ScreenFrame struct {
	FrameNumber uint64
	Width       uint32
	Height      uint32
	IsFullFrame bool
	Data        []byte
}

func (p ScreenFrame) Marshal() []byte {
	w := NewWriter()
	w.U64(p.FrameNumber)
	w.U32(p.Width)
	w.U32(p.Height)
	w.Bool(p.IsFullFrame)
	w.Bytes_(p.Data)
	return w.Bytes()
}

func UnmarshalScreenFrame(data []byte) (ScreenFrame, error) {
	r := NewReader(data)
	var p ScreenFrame
	var err error
	if p.FrameNumber, err = r.U64(); err != nil {
		return p, err
	}
	if p.Width, err = r.U32(); err != nil {
		return p, err
	}
	if p.Height, err = r.U32(); err != nil {
		return p, err
	}
	if p.IsFullFrame, err = r.Bool(); err != nil {
		return p, err
	}
	if p.Data, err = r.Bytes(); err != nil {
		return p, err
	}
	return p, nil
}

// SystemInfoResponse reports a point-in-time snapshot of the agent host's
// resource usage (§12 domain stack: backed by gopsutil in internal/sysinfo).
type SystemInfoResponse struct {
	Hostname         string
	OS               string
	Arch             string
	CPUPercent       float64
	MemoryPercent    float64
	MemoryTotalBytes uint64
	DiskUsagePercent float64
	LoadAverage1m    float64
	UptimeSeconds    uint64
}

func (p SystemInfoResponse) Marshal() []byte {
	w := NewWriter()
	w.String(p.Hostname)
	w.String(p.OS)
	w.String(p.Arch)
	w.F64(p.CPUPercent)
	w.F64(p.MemoryPercent)
	w.U64(p.MemoryTotalBytes)
	w.F64(p.DiskUsagePercent)
	w.F64(p.LoadAverage1m)
	w.U64(p.UptimeSeconds)
	return w.Bytes()
}

func UnmarshalSystemInfoResponse(data []byte) (SystemInfoResponse, error) {
	r := NewReader(data)
	var p SystemInfoResponse
	var err error
	if p.Hostname, err = r.String(); err != nil {
		return p, err
	}
	if p.OS, err = r.String(); err != nil {
		return p, err
	}
	if p.Arch, err = r.String(); err != nil {
		return p, err
	}
	if p.CPUPercent, err = r.F64(); err != nil {
		return p, err
	}
	if p.MemoryPercent, err = r.F64(); err != nil {
		return p, err
	}
	if p.MemoryTotalBytes, err = r.U64(); err != nil {
		return p, err
	}
	if p.DiskUsagePercent, err = r.F64(); err != nil {
		return p, err
	}
	if p.LoadAverage1m, err = r.F64(); err != nil {
		return p, err
	}
	if p.UptimeSeconds, err = r.U64(); err != nil {
		return p, err
	}
	return p, nil
}

// ProcessInfo describes one running process for SystemProcessList.
type ProcessInfo struct {
	PID        int32
	Name       string
	CPUPercent float64
	MemoryRSS  uint64
}

// SystemProcessListResponse is the full process table snapshot.
type SystemProcessListResponse struct {
	Processes []ProcessInfo
}

func (p SystemProcessListResponse) Marshal() []byte {
	w := NewWriter()
	w.U32(uint32(len(p.Processes)))
	for _, proc := range p.Processes {
		w.I64(int64(proc.PID))
		w.String(proc.Name)
		w.F64(proc.CPUPercent)
		w.U64(proc.MemoryRSS)
	}
	return w.Bytes()
}

func UnmarshalSystemProcessListResponse(data []byte) (SystemProcessListResponse, error) {
	r := NewReader(data)
	var p SystemProcessListResponse
	n, err := r.U32()
	if err != nil {
		return p, err
	}
	p.Processes = make([]ProcessInfo, n)
	for i := range p.Processes {
		pid, err := r.I64()
		if err != nil {
			return p, err
		}
		p.Processes[i].PID = int32(pid)
		if p.Processes[i].Name, err = r.String(); err != nil {
			return p, err
		}
		if p.Processes[i].CPUPercent, err = r.F64(); err != nil {
			return p, err
		}
		if p.Processes[i].MemoryRSS, err = r.U64(); err != nil {
			return p, err
		}
	}
	return p, nil
}

// SystemActionKind enumerates the remote power actions SystemAction can
// request.
type SystemActionKind uint8

const (
	SystemActionReboot SystemActionKind = iota
	SystemActionShutdown
	SystemActionLogoff
)

// SystemActionRequest asks the agent to perform a host power action.
type SystemActionRequest struct {
	Action SystemActionKind
	Force  bool
}

func (p SystemActionRequest) Marshal() []byte {
	w := NewWriter()
	w.U8(uint8(p.Action))
	w.Bool(p.Force)
	return w.Bytes()
}

func UnmarshalSystemActionRequest(data []byte) (SystemActionRequest, error) {
	r := NewReader(data)
	var p SystemActionRequest
	action, err := r.U8()
	if err != nil {
		return p, err
	}
	p.Action = SystemActionKind(action)
	if p.Force, err = r.Bool(); err != nil {
		return p, err
	}
	return p, nil
}

// MouseEvent mirrors a single mouse action for input injection.
type MouseEvent struct {
	X, Y        int32
	Button      uint8
	Down        bool
	DoubleClick bool
	ScrollDelta int32
}

func (p MouseEvent) Marshal() []byte {
	w := NewWriter()
	w.I64(int64(p.X))
	w.I64(int64(p.Y))
	w.U8(p.Button)
	w.Bool(p.Down)
	w.Bool(p.DoubleClick)
	w.I64(int64(p.ScrollDelta))
	return w.Bytes()
}

func UnmarshalMouseEvent(data []byte) (MouseEvent, error) {
	r := NewReader(data)
	var p MouseEvent
	x, err := r.I64()
	if err != nil {
		return p, err
	}
	y, err := r.I64()
	if err != nil {
		return p, err
	}
	p.X, p.Y = int32(x), int32(y)
	if p.Button, err = r.U8(); err != nil {
		return p, err
	}
	if p.Down, err = r.Bool(); err != nil {
		return p, err
	}
	if p.DoubleClick, err = r.Bool(); err != nil {
		return p, err
	}
	scroll, err := r.I64()
	if err != nil {
		return p, err
	}
	p.ScrollDelta = int32(scroll)
	return p, nil
}

// KeyEvent mirrors a single keyboard action for input injection.
type KeyEvent struct {
	KeyCode uint32
	Down    bool
	Shift   bool
	Ctrl    bool
	Alt     bool
}

func (p KeyEvent) Marshal() []byte {
	w := NewWriter()
	w.U32(p.KeyCode)
	w.Bool(p.Down)
	w.Bool(p.Shift)
	w.Bool(p.Ctrl)
	w.Bool(p.Alt)
	return w.Bytes()
}

func UnmarshalKeyEvent(data []byte) (KeyEvent, error) {
	r := NewReader(data)
	var p KeyEvent
	var err error
	if p.KeyCode, err = r.U32(); err != nil {
		return p, err
	}
	if p.Down, err = r.Bool(); err != nil {
		return p, err
	}
	if p.Shift, err = r.Bool(); err != nil {
		return p, err
	}
	if p.Ctrl, err = r.Bool(); err != nil {
		return p, err
	}
	if p.Alt, err = r.Bool(); err != nil {
		return p, err
	}
	return p, nil
}
