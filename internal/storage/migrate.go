package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MigrateFromJSON 将 JSON 后端的会话迁移到 SQLite
// MigrateFromJSON migrates JSON-backend session files into SQLite
func MigrateFromJSON(jsonDir string, store *SQLiteStore) (int, error) {
	jsonDir = strings.TrimSpace(jsonDir)
	if jsonDir == "" {
		return 0, nil
	}

	sessionsDir := filepath.Join(jsonDir, "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read sessions dir: %w", err)
	}

	src, err := NewManager(jsonDir)
	if err != nil {
		return 0, fmt.Errorf("open json backend: %w", err)
	}

	migrated := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		sessionID := strings.TrimSuffix(e.Name(), ".meta.json")

		// 检查是否已存在 / Check if already migrated
		if _, loadErr := store.LoadSession(sessionID); loadErr == nil {
			continue
		}

		meta, err := src.LoadSession(sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip migrate %s: %v\n", sessionID, err)
			continue
		}
		if err := store.CreateSession(meta); err != nil {
			fmt.Fprintf(os.Stderr, "migrate session %s failed: %v\n", sessionID, err)
			continue
		}

		if messages, err := src.LoadMessages(sessionID); err == nil && len(messages) > 0 {
			if err := store.SaveMessages(sessionID, messages); err != nil {
				fmt.Fprintf(os.Stderr, "migrate messages %s failed: %v\n", sessionID, err)
				continue
			}
		}
		if snap, err := src.LoadProgress(sessionID); err == nil {
			if err := store.SaveProgress(sessionID, snap); err != nil {
				fmt.Fprintf(os.Stderr, "migrate progress %s failed: %v\n", sessionID, err)
			}
		}
		if summaries, err := src.LoadSummaries(sessionID); err == nil && len(summaries) > 0 {
			// 摘要丢失不致命 / Losing summaries is non-critical
			_ = store.SaveSummaries(sessionID, summaries)
		}
		migrated++
	}
	return migrated, nil
}
