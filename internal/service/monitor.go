package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"caretrax-drip/internal/broadcast"
	"caretrax-drip/internal/common/database"
	mqttcommon "caretrax-drip/internal/common/mqtt"
	rediscommon "caretrax-drip/internal/common/redis"
	"caretrax-drip/internal/config"
	"caretrax-drip/internal/consumer"
	"caretrax-drip/internal/drip"
	"caretrax-drip/internal/evaluator"
	httpapi "caretrax-drip/internal/http"
	"caretrax-drip/internal/models"
	"caretrax-drip/internal/repository"
	"caretrax-drip/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MonitorService 输液监测服务：HTTP 接口、实时推送、MQTT / Stream 读数消费
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	memoryKV   *store.MemoryKV
	sweeper    *cron.Cron

	gateway repository.Gateway
	hub     *broadcast.Hub
	ingest  *IngestService
	drips   *drip.Manager
	latest  *LatestWeightCache

	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer

	handler http.Handler
	server  *Server
}

// NewMonitorService 按配置创建服务
// DBEnabled=false 时使用内存网关并写入默认患者；RedisEnabled=false 时使用进程内 KV 且不启用 Stream
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{config: cfg, logger: logger}

	// 初始化数据库
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.gateway = repository.NewPostgresStore(db, logger)
	} else {
		mem := repository.NewMemoryStore()
		mem.PutPatient(models.Patient{
			ID:                  cfg.Drip.DefaultPatientID,
			Name:                "Default Patient",
			ReservoirCapacity:   cfg.Drip.DefaultCapacity,
			RemainingPercentage: 100,
			Status:              models.StatusNormal,
		})
		s.gateway = mem
		logger.Warn("Database disabled, using in-memory gateway",
			zap.String("patient_id", cfg.Drip.DefaultPatientID),
		)
	}

	// 初始化Redis
	var kv store.KV
	if cfg.RedisEnabled {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), client); err != nil {
			s.closeResources()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		kv = store.NewRedisKV(client)
	} else {
		s.memoryKV = store.NewMemoryKV()
		kv = s.memoryKV
	}

	s.hub = broadcast.NewHub(logger)
	eval := evaluator.NewEvaluator(s.gateway, logger)
	s.latest = NewLatestWeightCache(kv, s.gateway, cfg.Drip.LatestWeightPrefix, cfg.Drip.LatestWeightSuffix, cfg.Drip.LatestWeightTTL, logger)
	s.drips = drip.NewManager(s.gateway, s.hub, logger)
	s.ingest = NewIngestService(s.gateway, eval, s.hub, s.latest, s.drips, logger)

	// 读数 Stream（需要 Redis）
	var streamSink redis.Cmdable
	if cfg.Stream.Enabled && s.redis != nil {
		streamSink = s.redis
		s.streamConsumer = consumer.NewStreamConsumer(
			s.redis,
			cfg.Stream.Name,
			cfg.Stream.Group,
			cfg.Stream.Consumer,
			cfg.Stream.BatchSize,
			cfg.Stream.Block,
			s.ingest,
			logger,
		)
	}

	// 初始化MQTT
	if cfg.MQTT.Enabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT.MQTTConfig, logger)
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		s.mqttClient = mqttClient
		s.mqttConsumer = consumer.NewMQTTConsumer(
			mqttClient,
			cfg.MQTT.Topic,
			cfg.MQTT.QoS,
			streamSink,
			cfg.Stream.Name,
			s.ingest,
			logger,
		)
	}

	router := httpapi.NewRouter(logger)
	router.RegisterWeightRoutes(httpapi.NewWeightHandler(s.ingest, s.latest, cfg.Drip.DefaultPatientID, cfg.HTTP.MaxBodyBytes, logger))
	router.RegisterDripRoutes(httpapi.NewDripHandler(s.drips, cfg.HTTP.MaxBodyBytes, logger))
	router.RegisterPatientRoutes(httpapi.NewPatientHandler(s.gateway, s.ingest, logger))
	router.RegisterLiveRoutes(
		broadcast.NewSSEHandler(s.hub, cfg.Drip.SubscriberQueueSize, cfg.Drip.HeartbeatInterval, logger),
		broadcast.NewWebSocketHandler(s.hub, cfg.Drip.SubscriberQueueSize, cfg.Drip.HeartbeatInterval, cfg.Drip.WriteWait, logger),
	)
	s.handler = router.Handler()
	s.server = NewServer(cfg.HTTP.Addr, s.handler, logger)

	return s, nil
}

// Handler HTTP 根 handler
func (s *MonitorService) Handler() http.Handler { return s.handler }

// Gateway 持久化网关
func (s *MonitorService) Gateway() repository.Gateway { return s.gateway }

// Hub 广播中心
func (s *MonitorService) Hub() *broadcast.Hub { return s.hub }

// Start 启动消费者、缓存清理和 HTTP 服务
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting drip monitor components")

	if s.memoryKV != nil && s.config.Drip.CacheSweepSpec != "" {
		sweeper, err := store.ScheduleSweep(s.memoryKV, s.config.Drip.CacheSweepSpec, s.logger)
		if err != nil {
			return fmt.Errorf("failed to schedule cache sweep: %w", err)
		}
		s.sweeper = sweeper
	}

	if s.streamConsumer != nil {
		if err := s.streamConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start stream consumer: %w", err)
		}
	}

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MQTT consumer: %w", err)
		}
	}

	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	s.logger.Info("Drip monitor started successfully")
	return nil
}

// Stop 停止服务
func (s *MonitorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping drip monitor")

	// 停止Consumer
	if s.mqttConsumer != nil {
		s.mqttConsumer.Stop()
	}
	if s.streamConsumer != nil {
		s.streamConsumer.Stop()
	}

	// 先断开订阅者，SSE 连接才能结束
	s.hub.Close()

	var stopErr error
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
		stopErr = err
	}

	if s.sweeper != nil {
		<-s.sweeper.Stop().Done()
	}

	s.closeResources()

	s.logger.Info("Drip monitor stopped")
	return stopErr
}

func (s *MonitorService) closeResources() {
	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redis != nil {
		if err := rediscommon.Close(s.redis); err != nil {
			s.logger.Warn("Error closing redis", zap.Error(err))
		}
	}

	// 关闭数据库
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Warn("Error closing database", zap.Error(err))
		}
	}
}
