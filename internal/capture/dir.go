package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource 监视目录中最新的图像文件，适合手机同步或截图流程。
// DirSource serves the newest image file from a watched directory. It suits
// setups where frames arrive out of band (phone sync, screenshot tools).
type DirSource struct {
	dir      string
	lastFile string
	acquired bool
}

// NewDirSource 创建目录采集源 / NewDirSource creates a directory-watching source.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: strings.TrimSpace(dir)}
}

func (d *DirSource) Name() string { return "dir:" + d.dir }

func (d *DirSource) Acquire(_ context.Context) error {
	if d.dir == "" {
		return fmt.Errorf("%w: watch directory not configured", ErrDeviceUnavailable)
	}
	info, err := os.Stat(d.dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s is not a readable directory", ErrDeviceUnavailable, d.dir)
	}
	d.acquired = true
	return nil
}

// Capture 返回目录中最新的图像；与上次相同的文件也照常返回，
// 由评估端判断画面是否变化。
// Capture returns the newest image in the directory. Serving the same file
// twice is fine; judging whether the scene changed is the assessor's job.
func (d *DirSource) Capture(_ context.Context) (Frame, error) {
	if !d.acquired {
		return Frame{}, ErrDeviceUnavailable
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return Frame{}, fmt.Errorf("read watch dir: %w", err)
	}

	type candidate struct {
		path string
		mod  int64
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path: filepath.Join(d.dir, e.Name()),
			mod:  info.ModTime().UnixNano(),
		})
	}
	if len(candidates) == 0 {
		return Frame{}, fmt.Errorf("no image files in %s", d.dir)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod > candidates[j].mod })

	newest := candidates[0].path
	data, err := os.ReadFile(newest)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame %s: %w", newest, err)
	}
	d.lastFile = newest
	return encodeFrame(data), nil
}

func (d *DirSource) Release() error {
	d.acquired = false
	return nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}
