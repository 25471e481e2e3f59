package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Pipeline PipelineConfig `json:"pipeline"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Memory   MemoryConfig   `json:"memory"`
	Docs     DocsConfig     `json:"docs"`
	Inbox    InboxConfig    `json:"inbox"`
	Review   ReviewConfig   `json:"review"`
	Chat     ChatConfig     `json:"chat"`
	API      APIConfig      `json:"api"`
	Session  SessionConfig  `json:"session"`
	Events   EventsConfig   `json:"events"`
}

type PipelineConfig struct {
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	HistoryLimit         int     `json:"history_limit"`
	CatalogueLimit       int     `json:"catalogue_limit"`
	MemoryTimeoutSec     int     `json:"memory_timeout_sec"`
	GenerationTimeoutSec int     `json:"generation_timeout_sec"`
	RefinerDisabled      bool    `json:"refiner_disabled"`
	BatchConcurrency     int     `json:"batch_concurrency"`
	DispatchWorkers      int     `json:"dispatch_workers"`
	DispatchBuffer       int     `json:"dispatch_buffer"`
}

type OpenAIConfig struct {
	Model          string `json:"model"`
	RefinerModel   string `json:"refiner_model"`
	FallbackModel  string `json:"fallback_model"`
	EmbeddingModel string `json:"embedding_model"`
}

type MemoryConfig struct {
	QdrantURL       string `json:"qdrant_url"`
	Collection      string `json:"collection"`
	CatalogueUserID string `json:"catalogue_user_id"`
}

type DocsConfig struct {
	IndexURL              string  `json:"index_url"`
	MaxPages              int     `json:"max_pages"`
	MinFallbackConfidence float64 `json:"min_fallback_confidence"`
	MaxPageChars          int     `json:"max_page_chars"`
	SkillMaxIterations    int     `json:"skill_max_iterations"`
}

type InboxConfig struct {
	BaseURL     string `json:"base_url"`
	AdminID     string `json:"admin_id"`
	ListenPort  int    `json:"listen_port"`
	WebhookPath string `json:"webhook_path"`
}

type ReviewConfig struct {
	APIRoot   string `json:"api_root"`
	ChannelID string `json:"channel_id"`
}

type ChatConfig struct {
	ListenPort int `json:"listen_port"`
}

type APIConfig struct {
	ListenPort int `json:"listen_port"`
}

type SessionConfig struct {
	Driver    string `json:"driver"`
	RedisAddr string `json:"redis_addr"`
	TTLHours  int    `json:"ttl_hours"`
}

type EventsConfig struct {
	Exchange string `json:"exchange"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			ConfidenceThreshold:  0.8,
			HistoryLimit:         5,
			CatalogueLimit:       3,
			MemoryTimeoutSec:     10,
			GenerationTimeoutSec: 60,
			BatchConcurrency:     3,
			DispatchWorkers:      2,
			DispatchBuffer:       64,
		},
		OpenAI: OpenAIConfig{
			Model:          "gpt-4o",
			RefinerModel:   "gpt-4o-mini",
			FallbackModel:  "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
		},
		Memory: MemoryConfig{
			Collection:      "support_memory",
			CatalogueUserID: "catalogue",
		},
		Docs: DocsConfig{
			MaxPages:              3,
			MinFallbackConfidence: 0.6,
			MaxPageChars:          15000,
			SkillMaxIterations:    4,
		},
		Inbox: InboxConfig{
			ListenPort:  8081,
			WebhookPath: "/webhooks/inbox",
		},
		Chat: ChatConfig{
			ListenPort: 8082,
		},
		API: APIConfig{
			ListenPort: 8080,
		},
		Session: SessionConfig{
			Driver:   "memory",
			TTLHours: 24,
		},
		Events: EventsConfig{
			Exchange: "deskmind.events",
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.ConfidenceThreshold <= 0 || cfg.Pipeline.ConfidenceThreshold > 1 {
		cfg.Pipeline.ConfidenceThreshold = 0.8
	}
	if cfg.Pipeline.HistoryLimit <= 0 {
		cfg.Pipeline.HistoryLimit = 5
	}
	if cfg.Pipeline.CatalogueLimit <= 0 {
		cfg.Pipeline.CatalogueLimit = 3
	}
	if cfg.Pipeline.MemoryTimeoutSec <= 0 {
		cfg.Pipeline.MemoryTimeoutSec = 10
	}
	if cfg.Pipeline.GenerationTimeoutSec <= 0 {
		cfg.Pipeline.GenerationTimeoutSec = 60
	}
	if cfg.Pipeline.BatchConcurrency <= 0 {
		cfg.Pipeline.BatchConcurrency = 3
	}
	if cfg.Pipeline.DispatchWorkers <= 0 {
		cfg.Pipeline.DispatchWorkers = 2
	}
	if cfg.Pipeline.DispatchBuffer <= 0 {
		cfg.Pipeline.DispatchBuffer = 64
	}
	if strings.TrimSpace(cfg.OpenAI.Model) == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if strings.TrimSpace(cfg.OpenAI.RefinerModel) == "" {
		cfg.OpenAI.RefinerModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.OpenAI.FallbackModel) == "" {
		cfg.OpenAI.FallbackModel = cfg.OpenAI.Model
	}
	if strings.TrimSpace(cfg.OpenAI.EmbeddingModel) == "" {
		cfg.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if strings.TrimSpace(cfg.Memory.Collection) == "" {
		cfg.Memory.Collection = "support_memory"
	}
	if strings.TrimSpace(cfg.Memory.CatalogueUserID) == "" {
		cfg.Memory.CatalogueUserID = "catalogue"
	}
	if cfg.Docs.MaxPages <= 0 {
		cfg.Docs.MaxPages = 3
	}
	if cfg.Docs.MinFallbackConfidence <= 0 || cfg.Docs.MinFallbackConfidence > 1 {
		cfg.Docs.MinFallbackConfidence = 0.6
	}
	if cfg.Docs.MaxPageChars <= 0 {
		cfg.Docs.MaxPageChars = 15000
	}
	if cfg.Docs.SkillMaxIterations <= 0 {
		cfg.Docs.SkillMaxIterations = 4
	}
	if cfg.Inbox.ListenPort <= 0 {
		cfg.Inbox.ListenPort = 8081
	}
	if strings.TrimSpace(cfg.Inbox.WebhookPath) == "" {
		cfg.Inbox.WebhookPath = "/webhooks/inbox"
	}
	if cfg.Chat.ListenPort <= 0 {
		cfg.Chat.ListenPort = 8082
	}
	if cfg.API.ListenPort <= 0 {
		cfg.API.ListenPort = 8080
	}
	if strings.TrimSpace(cfg.Session.Driver) == "" {
		cfg.Session.Driver = "memory"
	}
	if cfg.Session.TTLHours <= 0 {
		cfg.Session.TTLHours = 24
	}
	if strings.TrimSpace(cfg.Events.Exchange) == "" {
		cfg.Events.Exchange = "deskmind.events"
	}
}
