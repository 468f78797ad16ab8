package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"caretrax-drip/internal/common/config"
)

// Config 输液监测服务配置
type Config struct {
	HTTP struct {
		Addr         string
		MaxBodyBytes int64
	}

	// DBEnabled=false 时使用内存网关（联调、演示）
	DBEnabled bool
	Database  config.DatabaseConfig

	// RedisEnabled=false 时最新读数缓存使用进程内 KV，且不启用 Streams
	RedisEnabled bool
	Redis        config.RedisConfig

	MQTT struct {
		Enabled bool
		config.MQTTConfig
		Topic string // 订阅主题，如 "caretrax/+/weight"
	}

	Stream struct {
		Enabled   bool
		Name      string // 称重读数 Stream，如 "drip:weight:stream"
		Group     string
		Consumer  string
		BatchSize int64
		Block     time.Duration
	}

	Drip struct {
		// 旧版床旁秤（POST /）不带 patient_id，归到该患者
		DefaultPatientID string
		// 内存网关启动时写入的默认患者容量（ml）
		DefaultCapacity float64

		LatestWeightPrefix string // "drip:weight:"
		LatestWeightSuffix string // ":latest"
		LatestWeightTTL    time.Duration

		SubscriberQueueSize int
		HeartbeatInterval   time.Duration
		WriteWait           time.Duration // WebSocket 单帧写入超时
		CacheSweepSpec      string        // 进程内 KV 过期清理（cron 表达式）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.MaxBodyBytes = int64(parseInt(getEnv("HTTP_MAX_BODY_BYTES", "1048576"), 1<<20))

	cfg.DBEnabled = parseBool(getEnv("DB_ENABLED", "true"), true)
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "caretrax"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.RedisEnabled = parseBool(getEnv("REDIS_ENABLED", "true"), true)
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Enabled = parseBool(getEnv("MQTT_ENABLED", "false"), false)
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "caretrax-drip"
	cfg.MQTT.QoS = 1
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "caretrax/+/weight")

	cfg.Stream.Enabled = parseBool(getEnv("STREAM_ENABLED", "true"), true)
	cfg.Stream.Name = getEnv("STREAM_NAME", "drip:weight:stream")
	cfg.Stream.Group = getEnv("STREAM_GROUP", "caretrax-drip")
	cfg.Stream.Consumer = getEnv("STREAM_CONSUMER", "")
	cfg.Stream.BatchSize = int64(parseInt(getEnv("STREAM_BATCH_SIZE", "10"), 10))
	cfg.Stream.Block = time.Duration(parseInt(getEnv("STREAM_BLOCK_MS", "5000"), 5000)) * time.Millisecond

	cfg.Drip.DefaultPatientID = getEnv("DEFAULT_PATIENT_ID", "P-123456")
	cfg.Drip.DefaultCapacity = float64(parseInt(getEnv("DEFAULT_RESERVOIR_ML", "1000"), 1000))
	cfg.Drip.LatestWeightPrefix = getEnv("CACHE_WEIGHT_PREFIX", "drip:weight:")
	cfg.Drip.LatestWeightSuffix = ":latest"
	cfg.Drip.LatestWeightTTL = time.Duration(parseInt(getEnv("CACHE_WEIGHT_TTL", "60"), 60)) * time.Second
	cfg.Drip.SubscriberQueueSize = parseInt(getEnv("SUBSCRIBER_QUEUE_SIZE", "64"), 64)
	cfg.Drip.HeartbeatInterval = time.Duration(parseInt(getEnv("SSE_HEARTBEAT", "15"), 15)) * time.Second
	cfg.Drip.WriteWait = time.Duration(parseInt(getEnv("WS_WRITE_WAIT", "10"), 10)) * time.Second
	cfg.Drip.CacheSweepSpec = getEnv("CACHE_SWEEP_SPEC", "@every 1m")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}
