package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandSource 通过外部命令 (ffmpeg / fswebcam / libcamera-still) 抓取摄像头帧。
// CommandSource captures webcam frames by running an external grabber command.
// The command template must contain {output}; it is replaced per capture with
// a temp file path the command writes the JPEG frame to.
type CommandSource struct {
	name     string
	device   string
	template []string
	timeout  time.Duration
	tmpDir   string
	acquired bool
}

// NewCommandSource 创建命令采集源。template 例:
// NewCommandSource creates a command-backed source. Example template:
//
//	[]string{"ffmpeg", "-y", "-f", "v4l2", "-i", "{device}", "-frames:v", "1", "{output}"}
func NewCommandSource(name, device string, template []string, timeoutMS int) *CommandSource {
	timeout := 10 * time.Second
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return &CommandSource{
		name:     name,
		device:   device,
		template: append([]string(nil), template...),
		timeout:  timeout,
	}
}

func (c *CommandSource) Name() string { return c.name }

// Acquire 校验命令与设备存在 / Acquire verifies the grabber and device exist.
func (c *CommandSource) Acquire(_ context.Context) error {
	if len(c.template) == 0 {
		return fmt.Errorf("%w: no capture command configured", ErrDeviceUnavailable)
	}
	if _, err := exec.LookPath(c.template[0]); err != nil {
		return fmt.Errorf("%w: %s not found", ErrDeviceUnavailable, c.template[0])
	}
	if c.device != "" && strings.HasPrefix(c.device, "/dev/") {
		if _, err := os.Stat(c.device); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, c.device, err)
		}
	}
	tmpDir, err := os.MkdirTemp("", "instructor-capture-")
	if err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	c.tmpDir = tmpDir
	c.acquired = true
	return nil
}

func (c *CommandSource) Capture(ctx context.Context) (Frame, error) {
	if !c.acquired {
		return Frame{}, ErrDeviceUnavailable
	}
	output := filepath.Join(c.tmpDir, fmt.Sprintf("frame_%d.jpg", time.Now().UnixNano()))
	defer os.Remove(output)

	args := make([]string, 0, len(c.template)-1)
	for _, arg := range c.template[1:] {
		arg = strings.ReplaceAll(arg, "{device}", c.device)
		arg = strings.ReplaceAll(arg, "{output}", output)
		args = append(args, arg)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.template[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Frame{}, fmt.Errorf("capture command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return Frame{}, fmt.Errorf("read captured frame: %w", err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("capture command produced an empty frame")
	}
	return encodeFrame(data), nil
}

func (c *CommandSource) Release() error {
	if !c.acquired {
		return nil
	}
	c.acquired = false
	if c.tmpDir != "" {
		_ = os.RemoveAll(c.tmpDir)
		c.tmpDir = ""
	}
	return nil
}

func encodeFrame(data []byte) Frame {
	mime := "image/jpeg"
	if bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}) {
		mime = "image/png"
	}
	return Frame{
		DataURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		MIME:    mime,
	}
}
