package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CareLink/data/database/mgo/mongoutil"
	"CareLink/global/config"
	"CareLink/logger"
	"CareLink/middleware"
	"CareLink/module/chat/store"
	"CareLink/service/chat"
	"CareLink/service/health"
	"CareLink/service/kafka"
	"CareLink/service/natsx"
	"CareLink/service/notify"
	"CareLink/service/registry"
	"CareLink/service/storage"
	rediscli "CareLink/service/storage/redis"
	"CareLink/tools/ids"
	"CareLink/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CARELINK_CONFIG"), "path to config file (yaml/json/toml)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		logger.Error("gateway exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// closer 逆序执行的清理动作
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return err
	}
	ids.SetNodeID(cfg.NodeID)
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(sctx); err != nil {
				log.Warn("shutdown step failed", zap.String("step", closers[i].name), zap.Error(err))
			}
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"store", st.Close})
	log.Info("store ready", zap.String("backend", cfg.Store.Backend))

	var probes []health.Probe
	if p, ok := st.(store.Pinger); ok {
		probes = append(probes, health.Probe{Name: "store", Ping: p.Ping})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks := []notify.Sink{notify.NewStoreSink(st)}
	if len(cfg.Nats.Servers) > 0 {
		nc, err := openNats(cfg.Nats)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"nats", func(context.Context) error { return nc.Close() }})
		sinks = append(sinks, notify.NewNatsSink(natsx.NewPublisher(nc, nodeName(cfg.NodeID))))
		log.Info("nats sink enabled", zap.Strings("servers", cfg.Nats.Servers), zap.String("subject", cfg.Nats.Subject))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := kafka.NewProducer(kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
			Compression:       cfg.Kafka.Compression,
		})
		if err != nil {
			return err
		}
		closers = append(closers, closer{"kafka", func(context.Context) error { return kp.Close() }})
		sinks = append(sinks, notify.NewKafkaSink(kp))
		log.Info("kafka sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", kp.Topic()))
	}

	dispatcher := notify.NewDispatcher(notify.Options{
		Workers:     cfg.Notify.Workers,
		Queue:       cfg.Notify.Queue,
		MaxAttempts: cfg.Notify.MaxAttempts,
		BaseBackoff: cfg.Notify.BaseBackoff,
		MaxBackoff:  cfg.Notify.MaxBackoff,
	}, logger.Named("notify"), notify.NewMetrics(reg), sinks...)
	dispatcher.Start(ctx)
	closers = append(closers, closer{"notify", dispatcher.Stop})

	var presence *storage.Presence
	if cfg.Redis.Addr != "" {
		rdb, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		closers = append(closers, closer{"redis", func(context.Context) error { return rdb.Close() }})
		probes = append(probes, health.Probe{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		presence = storage.NewPresence(rdb, nodeName(cfg.NodeID), cfg.Redis.PresenceTTL)
		log.Info("redis presence enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", presence.TTL()))
	}

	monitor := health.NewMonitor(health.Options{
		Interval:  cfg.Health.Interval,
		Timeout:   cfg.Health.Timeout,
		Threshold: cfg.Health.Threshold,
	}, logger.Named("health"), reg, probes...)
	go monitor.Run(ctx)

	origins := middleware.NewOriginPolicy(cfg.HTTP.AllowedOrigins)
	opts := chat.Options{
		Store: st,
		JWT: security.Options{
			Secret: []byte(cfg.JWT.Secret),
			Alg:    cfg.JWT.Alg,
			Issuer: cfg.JWT.Issuer,
		},
		Notifier: dispatcher,
		Logger:   logger.Named("chat"),
		Metrics:  chat.NewMetrics(reg),
		WS: chat.WSOptions{
			SendQueue:      cfg.WS.SendQueue,
			MaxMessageSize: cfg.WS.MaxMessageSize,
			WriteWait:      cfg.WS.WriteWait,
			PongWait:       cfg.WS.PongWait,
			PingInterval:   cfg.WS.PingInterval,
			CheckOrigin:    origins.Allow,
		},
		StoreTimeout: cfg.StoreTimeout(),
	}
	if presence != nil {
		opts.Presence = presence
	}
	srv, err := chat.NewServer(opts)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"chat", srv.Shutdown})

	if presence != nil {
		go presence.Run(ctx, srv.Sessions().OnlineUsers, func(err error) {
			log.Warn("presence refresh failed", zap.Error(err))
		})
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           newRouter(srv, monitor, reg, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	closers = append(closers, closer{"http", httpSrv.Shutdown})

	if err := config.Watch(cfgPath, func(next config.AppConfig) {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			log.Warn("config reload: bad log level", zap.Error(err))
		}
		origins.Set(next.HTTP.AllowedOrigins)
		log.Info("config reloaded", zap.String("logLevel", logger.Level()), zap.Strings("allowedOrigins", next.HTTP.AllowedOrigins))
	}, func(err error) {
		log.Warn("config reload rejected", zap.Error(err))
	}); err != nil {
		return err
	}

	if cfg.Registry.ConsulAddr != "" {
		if err := register(ctx, cfg, monitor, &closers); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.HTTP.Address))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}

func newRouter(srv *chat.Server, monitor *health.Monitor, reg *prometheus.Registry, origins *middleware.OriginPolicy) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	mm := middleware.NewManager()
	mm.Set("origin", middleware.Origin(origins.Allow))
	r.Use(mm.Use())

	srv.Mount(r, "/ws")
	r.GET("/healthz", func(c *gin.Context) {
		code, status := http.StatusOK, "ok"
		if !monitor.Healthy() {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": monitor.Snapshot(),
			"onlineUsers":  srv.Sessions().Count(),
			"connections":  srv.Sessions().ConnCount(),
			"activeCalls":  srv.Calls().Count(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return r
}

// register 把本节点登记到 consul，心跳状态跟随依赖健康
func register(ctx context.Context, cfg config.AppConfig, monitor *health.Monitor, closers *[]closer) error {
	rc := cfg.Registry
	consul, err := registry.NewConsul(rc.ConsulAddr)
	if err != nil {
		return err
	}
	meta := map[string]string{"nodeId": fmt.Sprint(cfg.NodeID)}
	for k, v := range rc.Meta {
		meta[k] = v
	}
	inst := registry.Instance{
		Service:  rc.ServiceName,
		ID:       fmt.Sprintf("%s-%s", rc.ServiceName, nodeName(cfg.NodeID)),
		Address:  rc.AdvertiseAddress,
		Port:     rc.AdvertisePort,
		Metadata: meta,
	}
	if err := consul.Register(ctx, inst, registry.RegisterOptions{TTL: rc.TTL, DeregisterAfter: rc.DeregisterAfter}); err != nil {
		return err
	}
	*closers = append(*closers, closer{"registry", func(ctx context.Context) error { return consul.Deregister(ctx, inst.ID) }})

	log := logger.Named("registry")
	log.Info("registered in consul", zap.String("id", inst.ID), zap.String("consul", rc.ConsulAddr))
	go registry.Keepalive(ctx, consul, inst.ID, rc.TTL/3, func() (bool, string) {
		if monitor.Healthy() {
			return true, "ok"
		}
		return false, "dependency unhealthy"
	}, func(err error) {
		log.Warn("consul heartbeat failed", zap.Error(err))
	})
	return nil
}

func openStore(ctx context.Context, cfg config.AppConfig) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreMongo:
		return store.NewMongo(ctx, &mongoutil.Config{
			Uri:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			Username:    cfg.Mongo.Username,
			Password:    cfg.Mongo.Password,
			AuthSource:  cfg.Mongo.AuthSource,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
			MaxRetry:    cfg.Mongo.MaxRetry,
		})
	case config.StoreSQL:
		db, err := store.OpenSQL(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		return store.NewSQL(db)
	default:
		return store.NewMemory(), nil
	}
}

func openNats(c config.NatsConfig) (*natsx.Client, error) {
	nc, err := natsx.Connect(natsx.Config{
		Servers: c.Servers,
		Name:    c.Name,
		User:    c.User,
		Pass:    c.Pass,
		Logger:  logger.Named("nats"),
	})
	if err != nil {
		return nil, err
	}
	mode := natsx.Core
	if c.JetStream {
		mode = natsx.JetStream
	}
	if err := nc.RegisterRoute(natsx.Route{Biz: notify.NatsBiz, Subject: c.Subject, Mode: mode}); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return nc, nil
}

func nodeName(nodeID int64) string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, nodeID)
}
