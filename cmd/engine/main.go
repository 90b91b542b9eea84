package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"relaygate/internal/config"
	"relaygate/internal/db"
	"relaygate/internal/engine"
	"relaygate/internal/logger"
	"relaygate/internal/mqtt"
	"relaygate/internal/notify"
	"relaygate/internal/redis"
	"relaygate/internal/scheduler"
	"relaygate/internal/web"

	"github.com/pion/mdns/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	_ engine.Transport   = (*mqtt.Client)(nil)
	_ engine.Repository  = (*db.DB)(nil)
	_ engine.StateMirror = (*redis.StateMirror)(nil)
	_ engine.Notifier    = (*notify.WhatsAppNotifier)(nil)
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.App.LogLevel, cfg.App.LogOutput)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Fatal("Engine exited with error", zap.Error(err))
	}
	zlog.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, zlog *zap.Logger) error {
	opts := engine.Options{
		Logger:            zlog,
		GatewayMAC:        cfg.App.GatewayMAC,
		ProtocolType:      cfg.Engine.ProtocolType,
		DefaultDevice:     cfg.Engine.DefaultDevice,
		ControlTopic:      cfg.MQTT.ControlTopic,
		CrudPrefix:        cfg.MQTT.CrudPrefix,
		CancelStaleTimers: cfg.Engine.CancelStaleTimers,
		NotifyTimeout:     cfg.Engine.NotifyTimeout,
	}

	if cfg.Database.URL != "" {
		dbConn, err := db.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to DB: %w", err)
		}
		defer dbConn.Close()
		if err := dbConn.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		opts.Repository = dbConn
	} else {
		zlog.Warn("No database configured; rules live in memory only")
	}

	if cfg.Redis.Addr != "" {
		mirror := redis.NewStateMirror(redis.NewRedisClient(cfg.Redis.Addr), cfg.Redis.TTL)
		defer mirror.Close()
		if err := mirror.Ping(ctx); err != nil {
			zlog.Warn("Redis unreachable; device state mirror disabled", zap.Error(err))
		} else {
			opts.Mirror = mirror
		}
	}

	if cfg.Notify.URL != "" {
		opts.Notifier = notify.NewWhatsAppNotifier(cfg.Notify.URL, cfg.Notify.Token, cfg.Notify.Timeout)
	} else {
		zlog.Warn("No notification endpoint configured; send_message actions will be dropped")
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		opts.Metrics = engine.NewMetrics(registry)
	}

	mqttClient, err := mqtt.NewClient(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      byte(cfg.MQTT.QoS),
	}, zlog.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("connect to MQTT: %w", err)
	}
	defer mqttClient.Disconnect(250 * time.Millisecond)
	opts.Transport = mqttClient

	eng := engine.NewEngine(opts)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Flush(flushCtx); err != nil {
			zlog.Warn("Pending actions not delivered before shutdown", zap.Error(err))
		}
		eng.Stop()
	}()

	sched := scheduler.NewScheduler(zlog)
	if opts.Repository != nil {
		if err := sched.AddJob("reload-rules", cfg.Scheduler.ReloadSpec, func() {
			jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := eng.ReloadRules(jobCtx); err != nil {
				zlog.Error("Scheduled rule reload failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	if err := sched.AddJob("resync-subscriptions", cfg.Scheduler.ResyncSpec, func() {
		eng.Subscriptions().Resync()
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	webOpts := web.Options{
		Rules:     eng,
		Devices:   eng,
		Connected: mqttClient.IsConnected,
		APIToken:  cfg.App.APIToken,
		Logger:    zlog,
	}
	if registry != nil {
		webOpts.Gatherer = registry
	}
	webServer := web.NewWebServer(webOpts)
	go func() {
		if err := webServer.Start(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			zlog.Error("HTTP server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = webServer.Shutdown(shutdownCtx)
	}()

	if cfg.MDNS.Enabled {
		conn, err := startMDNSServer(cfg.MDNS.LocalName)
		if err != nil {
			zlog.Warn("Failed to start mDNS server", zap.Error(err))
		} else {
			zlog.Info("mDNS responder started", zap.String("local_name", cfg.MDNS.LocalName))
			defer conn.Close()
		}
	}

	<-ctx.Done()
	zlog.Info("Shutting down")
	return nil
}

func startMDNSServer(localName string) (*mdns.Conn, error) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, err
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		return nil, err
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return nil, err
	}

	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		l4.Close()
		return nil, err
	}

	return mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
}
