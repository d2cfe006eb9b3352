package internal

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 空的 DSN / 位址代表停用該後端：
//   - postgres 未設定 → 計分改用記憶體
//   - redis 未設定   → 排行榜不快取
//   - nats 未設定    → 不發布遊戲事件
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Game GameConfig `yaml:"game"`

	Chat struct {
		// 每個連線的訊息限流（令牌桶）
		BurstSize  int64 `yaml:"burst_size"`
		RefillRate int64 `yaml:"refill_rate"`
	} `yaml:"chat"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"redis"`

	NATS struct {
		URL        string `yaml:"url"`
		StreamName string `yaml:"stream_name"`
		Subject    string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// GameConfig 問答遊戲的計時設定
type GameConfig struct {
	// QuestionTimeout 每題從出題到評分的時間（作答時間 + 寬限）
	QuestionTimeout time.Duration `yaml:"question_timeout"`
	// ResultsDisplay 公布答案後停留多久再出下一題
	ResultsDisplay time.Duration `yaml:"results_display"`
	// AnswerWindow 客戶端倒數的作答時間，server_timing 時用來推算剩餘秒數
	AnswerWindow time.Duration `yaml:"answer_window"`
	// ServerTiming 以伺服器收到答案的時間計算剩餘秒數，取代客戶端回報值
	ServerTiming bool `yaml:"server_timing"`
}

// DefaultGameConfig 15 秒作答 + 2 秒寬限，公布答案 5 秒
func DefaultGameConfig() GameConfig {
	return GameConfig{
		QuestionTimeout: 17 * time.Second,
		ResultsDisplay:  5 * time.Second,
		AnswerWindow:    15 * time.Second,
	}
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 3001
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Game = DefaultGameConfig()
	cfg.Chat.BurstSize = 20
	cfg.Chat.RefillRate = 5
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Redis.CacheTTL = 30 * time.Second
	cfg.NATS.StreamName = "TRIVIA_EVENTS"
	cfg.NATS.Subject = "trivia"
	return cfg
}

// LoadConfig 讀取 YAML 配置檔並套用環境變數覆蓋
//
// path 為空時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自啟動參數，非使用者輸入
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 支援環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Game.QuestionTimeout <= 0 || c.Game.ResultsDisplay <= 0 {
		return fmt.Errorf("game timers must be positive")
	}
	if c.Game.ServerTiming && c.Game.AnswerWindow <= 0 {
		return fmt.Errorf("server_timing requires a positive answer_window")
	}
	if c.Chat.BurstSize < 0 || c.Chat.RefillRate < 0 {
		return fmt.Errorf("chat rate limits must not be negative")
	}
	return nil
}

// PostgresDSN 生成 PostgreSQL 連線字串（URL 格式，遷移工具也需要）
//
// 未設定 dsn 與 host 時回傳空字串。
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	if c.Postgres.Host == "" {
		return ""
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
