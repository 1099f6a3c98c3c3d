package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hirelink/chatsync/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config содержит настройки клиента синхронизации.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Бэкенд
	APIBaseURL string `yaml:"api_base_url"`
	WSURL      string `yaml:"ws_url"`

	// Переподключение WebSocket
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"-"`

	// WebSocket
	WSWriteTimeout   time.Duration `yaml:"-"`
	WSPongTimeout    time.Duration `yaml:"-"`
	WSMaxMessageSize int64         `yaml:"ws_max_message_size"`
	WSSendBufferSize int           `yaml:"ws_send_buffer_size"`

	// Резолвер активного диалога: повторы при гонке консистентности
	ResolveMaxRetries int           `yaml:"resolve_max_retries"`
	ResolveRetryDelay time.Duration `yaml:"-"`

	// Сверка оптимистичных сообщений с серверным эхом
	ReconcileWindow time.Duration `yaml:"-"`

	// Индикатор набора текста: локальный TTL (сервер не шлёт истечение)
	TypingTTL time.Duration `yaml:"-"`

	// HTTP-клиент REST
	HTTPTimeout time.Duration `yaml:"-"`

	// Логирование
	LogLevel string `yaml:"log_level"`
}

// yamlConfig — промежуточная структура для парсинга YAML (длительности в секундах).
type yamlConfig struct {
	APIBaseURL           string `yaml:"api_base_url"`
	WSURL                string `yaml:"ws_url"`
	ReconnectMaxAttempts int    `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelay   int    `yaml:"reconnect_base_delay"`
	WSWriteTimeout       int    `yaml:"ws_write_timeout"`
	WSPongTimeout        int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize     int    `yaml:"ws_max_message_size"`
	WSSendBufferSize     int    `yaml:"ws_send_buffer_size"`
	ResolveMaxRetries    int    `yaml:"resolve_max_retries"`
	ResolveRetryDelay    int    `yaml:"resolve_retry_delay"`
	ReconcileWindow      int    `yaml:"reconcile_window"`
	TypingTTL            int    `yaml:"typing_ttl"`
	HTTPTimeout          int    `yaml:"http_timeout"`
	LogLevel             string `yaml:"log_level"`
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	// Значения по умолчанию
	yc := yamlConfig{
		APIBaseURL:           "http://localhost:8080",
		WSURL:                "ws://localhost:8080/ws",
		ReconnectMaxAttempts: 5,
		ReconnectBaseDelay:   1,
		WSWriteTimeout:       10,
		WSPongTimeout:        60,
		WSMaxMessageSize:     4096,
		WSSendBufferSize:     256,
		ResolveMaxRetries:    2,
		ResolveRetryDelay:    1,
		ReconcileWindow:      5,
		TypingTTL:            6,
		HTTPTimeout:          10,
		LogLevel:             "info",
	}

	// Загрузка YAML: CONFIG_PATH → config/chatsync.yaml
	paths := []string{os.Getenv("CONFIG_PATH"), "config/chatsync.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	return &Config{
		APIBaseURL:           strings.TrimSuffix(envStr("API_BASE_URL", yc.APIBaseURL), "/"),
		WSURL:                envStr("WS_URL", yc.WSURL),
		ReconnectMaxAttempts: envInt("RECONNECT_MAX_ATTEMPTS", yc.ReconnectMaxAttempts),
		ReconnectBaseDelay:   time.Duration(envInt("RECONNECT_BASE_DELAY", yc.ReconnectBaseDelay)) * time.Second,
		WSWriteTimeout:       time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)) * time.Second,
		WSPongTimeout:        time.Duration(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)) * time.Second,
		WSMaxMessageSize:     int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		WSSendBufferSize:     envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		ResolveMaxRetries:    envInt("RESOLVE_MAX_RETRIES", yc.ResolveMaxRetries),
		ResolveRetryDelay:    time.Duration(envInt("RESOLVE_RETRY_DELAY", yc.ResolveRetryDelay)) * time.Second,
		ReconcileWindow:      time.Duration(envInt("RECONCILE_WINDOW", yc.ReconcileWindow)) * time.Second,
		TypingTTL:            time.Duration(envInt("TYPING_TTL", yc.TypingTTL)) * time.Second,
		HTTPTimeout:          time.Duration(envInt("HTTP_TIMEOUT", yc.HTTPTimeout)) * time.Second,
		LogLevel:             envStr("LOG_LEVEL", yc.LogLevel),
	}
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
