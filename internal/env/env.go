package env

import (
	"os"
)

const (
	APIBaseURL      = "CHAT_API_BASE_URL"
	RealtimeURL     = "CHAT_REALTIME_URL"
	BearerToken     = "CHAT_BEARER_TOKEN"
	WidgetBotID     = "CHAT_WIDGET_BOT_ID"
	AgentID         = "CHAT_AGENT_ID"
	SessionFile     = "CHAT_SESSION_FILE"
	MetricsAddr     = "CHAT_METRICS_ADDR"
	StubListenAddr  = "STUB_LISTEN_ADDR"
	StubTokenSecret = "STUB_TOKEN_SECRET"
	StubRedisURL    = "STUB_REDIS_URL"
	StubRedisPass   = "STUB_REDIS_PASS"
)

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}
