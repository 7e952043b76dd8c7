// Package console implements the operator command loop of the server.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"micstream/internal/app"
	"micstream/internal/core/domain"
	"micstream/pkg/utils"

	"go.uber.org/zap"
)

// Controller is the server surface the console drives.
type Controller interface {
	Start() error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	IsAccepting() bool
	Status() app.ServerStatus
	StartRecording(ctx context.Context) (domain.StartResult, error)
	StopRecording(ctx context.Context) (*domain.RecordingSummary, error)
	Recordings(ctx context.Context) ([]*domain.RecordingSummary, error)
}

type Console struct {
	ctrl    Controller
	in      io.Reader
	out     io.Writer
	logger  *zap.SugaredLogger
	timeout time.Duration
}

// New creates a console reading commands from in. timeout bounds every
// stop and restart.
func New(ctrl Controller, in io.Reader, out io.Writer, timeout time.Duration, logger *zap.SugaredLogger) *Console {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Console{
		ctrl:    ctrl,
		in:      in,
		out:     out,
		logger:  logger,
		timeout: timeout,
	}
}

// Run executes commands until exit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	c.printHelp()
	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if !c.Execute(ctx, line) {
				return nil
			}
			c.prompt()
		}
	}
}

// Execute runs one command line and reports whether the console should
// keep reading.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(utils.SanitizeLine(line))
	if len(fields) == 0 {
		return true
	}

	switch strings.ToLower(fields[0]) {
	case "start":
		c.start()
	case "stop":
		c.stop(ctx)
	case "restart":
		c.restart(ctx)
	case "status":
		c.status()
	case "startrecording":
		c.startRecording(ctx)
	case "stoprecording":
		c.stopRecording(ctx)
	case "recordings":
		c.recordings(ctx)
	case "help", "?":
		c.printHelp()
	case "exit", "quit":
		c.printf("Shutting down...\n")
		return false
	default:
		c.printf("Unknown command: %s. Type 'help' for available commands.\n", fields[0])
	}
	return true
}

func (c *Console) start() {
	if c.ctrl.IsAccepting() {
		c.printf("Server is already running.\n")
		return
	}
	if err := c.ctrl.Start(); err != nil {
		c.logger.Errorw("failed to start server", "error", err)
		c.printf("Failed to start server: %v\n", err)
		return
	}
	c.printf("Server started on %s\n", c.ctrl.Status().Address)
}

func (c *Console) stop(ctx context.Context) {
	if !c.ctrl.IsAccepting() {
		c.printf("Server is not running.\n")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.ctrl.Stop(ctx); err != nil {
		c.logger.Errorw("failed to stop server", "error", err)
		c.printf("Server stopped with errors: %v\n", err)
		return
	}
	c.printf("Server stopped.\n")
}

func (c *Console) restart(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.ctrl.Restart(ctx); err != nil {
		c.logger.Errorw("failed to restart server", "error", err)
		c.printf("Failed to restart server: %v\n", err)
		return
	}
	c.printf("Server restarted on %s\n", c.ctrl.Status().Address)
}

func (c *Console) status() {
	status := c.ctrl.Status()

	if status.Accepting {
		c.printf("Server: running on %s (uptime %s)\n", status.Address, status.Uptime)
	} else {
		c.printf("Server: stopped\n")
	}
	c.printf("Catalog: %s\n", status.Catalog)

	session := status.Session
	c.printf("Clients: %d connected, %d total, %d rejected\n",
		session.ActiveClients, session.TotalClients, session.RejectedClients)
	c.printf("Frames: %d audio, %d malformed, %d ignored, %d rate limited (%d bytes received)\n",
		session.AudioFrames, session.MalformedFrames, session.IgnoredFrames, session.RateLimitedFrames, session.BytesReceived)
	for _, client := range status.Clients {
		c.printf("  %s  %s  connected %s\n", client.ID, client.RemoteAddr, utils.FormatTimestamp(client.ConnectedAt))
	}

	rec := status.Recording
	if rec.IsRecording {
		c.printf("Recording: %s (%d packets, %d bytes)\n", rec.FilePath, rec.PacketsWritten, rec.BytesWritten)
	} else {
		c.printf("Recording: idle\n")
	}
}

func (c *Console) startRecording(ctx context.Context) {
	result, err := c.ctrl.StartRecording(ctx)
	if err != nil {
		c.logger.Errorw("failed to start recording", "error", err)
		c.printf("Failed to start recording: %v\n", err)
		return
	}
	if !result.Started {
		c.printf("Recording not started: %s\n", result.Reason)
		return
	}
	c.printf("Recording to %s\n", result.FilePath)
}

func (c *Console) stopRecording(ctx context.Context) {
	summary, err := c.ctrl.StopRecording(ctx)
	if err != nil {
		c.logger.Errorw("failed to stop recording", "error", err)
		c.printf("Failed to finalize recording: %v\n", err)
		return
	}
	if summary == nil {
		c.printf("No active recording.\n")
		return
	}
	if summary.Empty {
		c.printf("Recording stopped with no audio: %s\n", summary.FilePath)
		return
	}
	c.printf("Recording saved: %s (%s, %d packets, %d bytes)\n",
		summary.FilePath, utils.FormatDuration(summary.Duration), summary.Packets, summary.FileSize)
}

func (c *Console) recordings(ctx context.Context) {
	list, err := c.ctrl.Recordings(ctx)
	if err != nil {
		c.printf("Failed to list recordings: %v\n", err)
		return
	}
	if len(list) == 0 {
		c.printf("No recordings.\n")
		return
	}
	for _, r := range list {
		c.printf("  %s  %s  %s  %d bytes\n", r.ID, r.FilePath, utils.FormatDuration(r.Duration), r.FileSize)
	}
}

func (c *Console) printHelp() {
	c.printf(`
Commands:
  start            Start accepting client connections
  stop             Stop the server (finalizes an active recording)
  restart          Stop and start the server
  status           Show server, client and recording status
  startrecording   Begin writing received audio to a new file
  stoprecording    Finalize the active recording
  recordings       List finished recordings
  help             Show this help
  exit             Stop everything and quit
`)
}

func (c *Console) prompt() {
	c.printf("> ")
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
