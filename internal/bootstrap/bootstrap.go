package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"instructor/internal/assess"
	"instructor/internal/capture"
	"instructor/internal/config"
	"instructor/internal/defaults"
	"instructor/internal/effects"
	"instructor/internal/provider"
	"instructor/internal/storage"
	"instructor/internal/task"
	"instructor/internal/taskapi"
)

// BuildResult 与 UI 无关的构建结果，供 main 构造监控或对话前端
// BuildResult is UI-agnostic; main uses it to construct the monitor or chat front-end
type BuildResult struct {
	Config   config.Config
	Store    storage.Store
	Chain    *storage.Layered
	Provider provider.Provider
	Assessor *assess.Client
	ChatAss  *assess.Client
	Backend  *taskapi.Client
	Guard    *Guard
	Narrator effects.Narrator
	Source   capture.Source
	Session  storage.SessionMeta
	Tasks    task.List
}

// Build 按文档顺序初始化并返回 BuildResult；调用方负责 defer result.Store.Close()
// Build initializes in doc order and returns BuildResult; caller must defer result.Store.Close()
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	dbPath := filepath.Join(cfg.Storage.BaseDir, "instructor.db")
	sqliteStore, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	store := sqliteStore

	jsonManager, err := storage.NewManager(cfg.Storage.BaseDir)
	if err != nil {
		_ = sqliteStore.Close()
		return nil, fmt.Errorf("init json storage: %w", err)
	}

	if migrated, migErr := storage.MigrateFromJSON(cfg.Storage.BaseDir, sqliteStore); migErr == nil && migrated > 0 {
		_ = migrated // optional: log "migrated N legacy sessions"
	}

	chain := storage.NewLayered(sqliteStore, jsonManager, storage.NewMemorySlot())

	providerClient := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	})

	assessor := assess.New(providerClient, cfg.Provider.Model, defaults.DefaultAssessmentPrompt, cfg.Loop.MaxTokens)
	chatAssessor := assess.New(providerClient, cfg.Provider.Model, defaults.DefaultConversationPrompt, cfg.Loop.MaxTokens)
	backend := taskapi.New(cfg.Backend.BaseURL, cfg.Backend.TimeoutMS)

	// 后端挂了也要能开工 / A dead backend never blocks a session.
	tasks := backend.LatestTasks(ctx, defaults.DefaultTasks())

	sessionMeta := storage.SessionMeta{
		ID:    storage.NewSessionID(),
		Title: sessionTitle(tasks),
		Model: cfg.Provider.Model,
	}
	if err := store.CreateSession(sessionMeta); err != nil {
		_ = sqliteStore.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	guard := NewGuard(chain, backend, sessionMeta.TaskID)

	var narrator effects.Narrator
	if n := effects.NewCommandNarrator(strings.Fields(cfg.Speech.Command), cfg.Speech.TimeoutMS); n != nil {
		narrator = n
	}

	return &BuildResult{
		Config:   cfg,
		Store:    store,
		Chain:    chain,
		Provider: providerClient,
		Assessor: assessor,
		ChatAss:  chatAssessor,
		Backend:  backend,
		Guard:    guard,
		Narrator: narrator,
		Source:   buildSource(cfg.Capture),
		Session:  sessionMeta,
		Tasks:    tasks,
	}, nil
}

// Resume 恢复已有会话：重建守卫并加载进度快照。
// Resume rebuilds the guard and loads the progress snapshot of an existing
// session. The restored task ID keeps the one-time bootstrap from re-firing.
func Resume(res *BuildResult, sessionID string) (storage.SessionMeta, storage.ProgressSnapshot, error) {
	meta, err := res.Store.LoadSession(sessionID)
	if err != nil {
		return storage.SessionMeta{}, storage.ProgressSnapshot{}, fmt.Errorf("load session: %w", err)
	}
	snap, err := res.Store.LoadProgress(sessionID)
	if err != nil {
		return storage.SessionMeta{}, storage.ProgressSnapshot{}, fmt.Errorf("load progress: %w", err)
	}
	res.Session = meta
	res.Guard = NewGuard(res.Chain, res.Backend, meta.TaskID)
	if len(snap.TaskList) > 0 {
		res.Tasks = snap.TaskList
	}
	return meta, snap, nil
}

func buildSource(cfg config.CaptureConfig) capture.Source {
	if cfg.Mode == "watch" {
		return capture.NewDirSource(cfg.WatchDir)
	}
	return capture.NewCommandSource("camera", cfg.Device, strings.Fields(cfg.Command), cfg.TimeoutMS)
}

func sessionTitle(tasks task.List) string {
	if len(tasks) == 0 {
		return "Guided session"
	}
	return tasks[0].Title
}
