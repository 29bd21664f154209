package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDeviceUnavailable 设备缺失或无权限；调用方应停用采集模式而不是重试。
// ErrDeviceUnavailable means the device is missing or permission was denied.
// Callers should disable capture mode and surface a persistent notice rather
// than retry automatically.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Frame 一次观察采样 / Frame is one captured observation.
type Frame struct {
	// DataURL base64 编码的图像 (data:image/jpeg;base64,...)
	// DataURL holds the base64-encoded image.
	DataURL string
	// MIME 图像类型 / MIME is the image media type.
	MIME string
}

// Source 观察源。Acquire 独占设备，Release 释放；两者配对调用。
// Source is an observation source. Acquire takes exclusive ownership of the
// underlying device and Release gives it back; Capture is only valid between
// the two.
type Source interface {
	// Acquire 获取设备 / Acquire opens the device.
	Acquire(ctx context.Context) error

	// Capture 采样一帧 / Capture grabs one frame.
	Capture(ctx context.Context) (Frame, error)

	// Release 释放设备，可重复调用 / Release closes the device; idempotent.
	Release() error

	// Name 源名称 / Name identifies the source.
	Name() string
}

// Switch 在源之间切换：先释放旧设备，再获取新设备，绝无双持窗口。
// Switch swaps the active source for a new one. The old device is released
// before the new one is acquired, so there is no window where both are held.
// On acquire failure the switch is abandoned and no source is active.
type Switch struct {
	mu     sync.Mutex
	active Source
}

// NewSwitch 创建切换器 / NewSwitch creates a switch with no active source.
func NewSwitch() *Switch {
	return &Switch{}
}

// Activate 切换到 next；next 为 nil 只做释放。
// Activate makes next the active source. Passing nil just releases.
func (s *Switch) Activate(ctx context.Context, next Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		if err := s.active.Release(); err != nil {
			return fmt.Errorf("release %s: %w", s.active.Name(), err)
		}
		s.active = nil
	}
	if next == nil {
		return nil
	}
	if err := next.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire %s: %w", next.Name(), err)
	}
	s.active = next
	return nil
}

// Capture 用当前源采样 / Capture grabs a frame from the active source.
func (s *Switch) Capture(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	src := s.active
	s.mu.Unlock()
	if src == nil {
		return Frame{}, ErrDeviceUnavailable
	}
	return src.Capture(ctx)
}

// Active 当前源名称，无源时为空串 / Active names the current source, "" when none.
func (s *Switch) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// Close 释放当前源 / Close releases whatever source is active.
func (s *Switch) Close() error {
	return s.Activate(context.Background(), nil)
}
