package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"instructor/internal/chat"
)

// Manager JSON 文件存储：会话按文件存放，同时充当交接链的次层。
// Manager is the JSON file backend. Sessions live as per-session files under
// sessionsDir; the handoff payload lives under stateDir. It backs the
// secondary tier of the handoff chain and the fallback session store.
type Manager struct {
	baseDir     string
	sessionsDir string
	stateDir    string
}

// NewManager 创建 JSON 存储 / NewManager creates the JSON file backend.
func NewManager(baseDir string) (*Manager, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("storage base dir is empty")
	}
	m := &Manager{
		baseDir:     baseDir,
		sessionsDir: filepath.Join(baseDir, "sessions"),
		stateDir:    filepath.Join(baseDir, "state"),
	}
	for _, dir := range []string{m.baseDir, m.sessionsDir, m.stateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return m, nil
}

// persistedMessage JSON 后端的消息存储形态
// persistedMessage is the on-disk message shape for the JSON backend.
type persistedMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

func (m *Manager) CreateSession(meta SessionMeta) error {
	now := nowUTC()
	if strings.TrimSpace(meta.CreatedAt) == "" {
		meta.CreatedAt = now
	}
	if strings.TrimSpace(meta.UpdatedAt) == "" {
		meta.UpdatedAt = now
	}
	return writeJSONFile(m.metaPath(meta.ID), meta)
}

func (m *Manager) SaveSession(meta SessionMeta) error {
	meta.UpdatedAt = nowUTC()
	if strings.TrimSpace(meta.CreatedAt) == "" {
		meta.CreatedAt = meta.UpdatedAt
	}
	return writeJSONFile(m.metaPath(meta.ID), meta)
}

func (m *Manager) LoadSession(id string) (SessionMeta, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionMeta{}, fmt.Errorf("session id is empty")
	}
	var meta SessionMeta
	if err := readJSONFile(m.metaPath(id), &meta); err != nil {
		return SessionMeta{}, err
	}
	return meta, nil
}

func (m *Manager) ListSessions() ([]SessionMeta, error) {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return nil, err
	}
	metas := []SessionMeta{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		var meta SessionMeta
		if err := readJSONFile(filepath.Join(m.sessionsDir, e.Name()), &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt > metas[j].UpdatedAt
	})
	return metas, nil
}

func (m *Manager) SaveMessages(sessionID string, messages []chat.Message) error {
	persisted := make([]persistedMessage, 0, len(messages))
	for _, msg := range messages {
		persisted = append(persisted, persistedMessage{
			Role:     msg.Role,
			Content:  msg.PlainText(),
			ImageURL: firstImageURL(msg),
		})
	}
	return writeJSONFile(m.messagesPath(sessionID), persisted)
}

func (m *Manager) LoadMessages(sessionID string) ([]chat.Message, error) {
	var persisted []persistedMessage
	if err := readJSONFile(m.messagesPath(sessionID), &persisted); err != nil {
		return nil, err
	}
	messages := make([]chat.Message, 0, len(persisted))
	for _, p := range persisted {
		if p.ImageURL != "" {
			messages = append(messages, chat.UserObservation(p.ImageURL, p.Content))
			continue
		}
		messages = append(messages, chat.Text(p.Role, p.Content))
	}
	return messages, nil
}

func (m *Manager) SaveProgress(sessionID string, snap ProgressSnapshot) error {
	return writeJSONFile(m.progressPath(sessionID), snap)
}

func (m *Manager) LoadProgress(sessionID string) (ProgressSnapshot, error) {
	var snap ProgressSnapshot
	if err := readJSONFile(m.progressPath(sessionID), &snap); err != nil {
		return ProgressSnapshot{}, err
	}
	return snap, nil
}

func (m *Manager) SaveSummaries(sessionID string, summaries []string) error {
	if summaries == nil {
		summaries = []string{}
	}
	return writeJSONFile(m.summariesPath(sessionID), summaries)
}

func (m *Manager) LoadSummaries(sessionID string) ([]string, error) {
	var out []string
	if err := readJSONFile(m.summariesPath(sessionID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) Close() error { return nil }

// --- Handoff (secondary tier) ---

func (m *Manager) handoffPath() string {
	return filepath.Join(m.stateDir, "handoff.json")
}

func (m *Manager) SaveHandoff(h Handoff) error {
	return writeJSONFile(m.handoffPath(), h)
}

func (m *Manager) LoadHandoff() (Handoff, bool, error) {
	if _, err := os.Stat(m.handoffPath()); err != nil {
		if os.IsNotExist(err) {
			return Handoff{}, false, nil
		}
		return Handoff{}, false, err
	}
	var h Handoff
	if err := readJSONFile(m.handoffPath(), &h); err != nil {
		return Handoff{}, false, err
	}
	if h.Empty() {
		return Handoff{}, false, nil
	}
	return h, true, nil
}

func (m *Manager) ClearHandoff() error {
	err := os.Remove(m.handoffPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --- Paths / Helpers ---

func (m *Manager) metaPath(id string) string {
	return filepath.Join(m.sessionsDir, id+".meta.json")
}

func (m *Manager) messagesPath(id string) string {
	return filepath.Join(m.sessionsDir, id+".messages.json")
}

func (m *Manager) progressPath(id string) string {
	return filepath.Join(m.sessionsDir, id+".progress.json")
}

func (m *Manager) summariesPath(id string) string {
	return filepath.Join(m.sessionsDir, id+".summaries.json")
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// InferTitle 从首条用户消息推断会话标题
// InferTitle derives a session title from the first user turn.
func InferTitle(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		t := strings.TrimSpace(msg.PlainText())
		if t == "" {
			continue
		}
		runes := []rune(t)
		if len(runes) > 48 {
			return string(runes[:48]) + "..."
		}
		return t
	}
	return "new session"
}
