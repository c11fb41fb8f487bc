package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/api"
	"github.com/geoquest/geoquest/pkg/buffer"
	"github.com/geoquest/geoquest/pkg/config"
	"github.com/geoquest/geoquest/pkg/gps"
	"github.com/geoquest/geoquest/pkg/logx"
	"github.com/geoquest/geoquest/pkg/metrics"
	"github.com/geoquest/geoquest/pkg/mqtt"
	"github.com/geoquest/geoquest/pkg/notify"
	"github.com/geoquest/geoquest/pkg/reconcile"
	"github.com/geoquest/geoquest/pkg/sched"
	"github.com/geoquest/geoquest/pkg/social"
	"github.com/geoquest/geoquest/pkg/store"
)

const (
	version = "1.0.0-dev"
	appName = "geoquestd"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/geoquest/geoquest.conf", "config file path")
		logLevel    = flag.String("log-level", "", "log level override (debug|info|warn|error)")
		userID      = flag.String("user", "", "signed-in user id (persisted)")
		authToken   = flag.String("token", "", "bearer token for the quiz server")
		simLat      = flag.Float64("sim-lat", 59.3293, "simulated source start latitude")
		simLon      = flag.Float64("sim-lon", 18.0686, "simulated source start longitude")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}

	logger := logx.New(level)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.Warn("failed to open log file, logging to stderr", "path", cfg.LogFile, "error", err)
		} else {
			defer f.Close()
			logger = logx.NewWithOutput(level, f)
		}
	}

	logger.Info("starting geoquest daemon",
		"version", version,
		"config", *configFile,
		"server", cfg.ServerURL,
	)

	if !cfg.Enable {
		logger.Info("daemon disabled by configuration, exiting")
		return
	}

	st, err := store.OpenSQLite(cfg.DatabasePath)
	var kv store.Store = st
	if err != nil {
		logger.Warn("failed to open database, state will not survive restarts",
			"path", cfg.DatabasePath, "error", err)
		kv = store.NewMemStore()
	}
	defer kv.Close()

	user := loadUser(kv, *userID, *authToken, logger)
	userProvider := func() *pkg.UserContext { return user }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var meter *metrics.Server
	if cfg.MetricsListener {
		meter = metrics.NewServer(logger)
		if err := meter.Start(cfg.MetricsPort); err != nil {
			logger.Error("failed to start metrics server", "error", err)
		} else {
			defer meter.Stop()
		}
	}

	telemetry := mqtt.NewClient(mqttConfig(cfg), logger)
	if err := telemetry.Connect(); err != nil {
		logger.Warn("telemetry publishing unavailable", "error", err)
	}
	defer telemetry.Disconnect()

	state := reconcile.LoadState(kv, logger)
	buf := buffer.New(kv, logger,
		buffer.WithCapacity(cfg.BufferCapacity),
		buffer.WithRolloverHook(state.Reset),
		buffer.WithEvictionHook(func(n int) {
			if meter != nil {
				meter.RecordEvictions(n)
			}
		}),
	)
	buf.Restore()

	client := api.NewClient(cfg.ServerURL, logger)

	platform := sched.NewTimerScheduler(logger)
	defer platform.Stop()

	dispatcher := notify.NewDispatcher(platform, notify.NewBeeepNotifier(cfg.NotifyIcon), userProvider, logger)
	fanout := &discoveryFanout{next: dispatcher, telemetry: telemetry, logger: logger}
	reconciler := reconcile.NewReconciler(client, fanout, state, userProvider, logger)
	if meter != nil {
		dispatcher.SetRecorder(meter)
		reconciler.SetRecorder(meter)
	}
	daily := sched.NewReconciliationScheduler(platform, buf, reconciler, state, logger)

	sampler := gps.NewSampler(
		gps.NewSimSource(*simLat, *simLon, 15),
		func(s pkg.LocationSample) {
			buf.Record(s)
			if meter != nil {
				meter.RecordSample(string(s.Mode))
				meter.SetBufferSize(buf.Len())
			}
			if err := telemetry.PublishSample(s); err != nil {
				logger.Debug("sample publish failed", "error", err)
			}
		},
		logger,
	)
	sampler.Configure(pkg.ModeForeground)
	if err := sampler.Start(); err != nil {
		logger.Error("location tracking unavailable", "error", err)
	}
	defer sampler.Stop()

	if user.Valid() {
		if err := daily.ScheduleDaily(user.UserID); err != nil {
			logger.Error("failed to schedule daily discovery check", "error", err)
		}
		// Daemon startup counts as a foreground activation.
		daily.CheckIfDueOnForeground(ctx)
	} else {
		logger.Info("no signed-in user, discovery checks idle")
	}

	var tracker *social.Tracker
	if cfg.SocialEnabled && user.Valid() {
		tracker = social.NewTracker(
			gps.NewSimSource(*simLat, *simLon, 15),
			client, userProvider, nil, logger,
		)
		if meter != nil {
			tracker.SetRecorder(meter)
		}
		if err := tracker.Start(ctx); err != nil {
			logger.Error("social tracking unavailable", "error", err)
		} else {
			defer tracker.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	logger.Info("geoquest daemon started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			return
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			return
		case <-ticker.C:
			logger.Debug("daemon heartbeat", "buffered", buf.Len(), "date", buf.DateKey())
			if err := telemetry.PublishStatus(map[string]interface{}{
				"buffered":  buf.Len(),
				"date":      buf.DateKey(),
				"tracking":  sampler.State() == gps.StateActive,
				"signed_in": user.Valid(),
			}); err != nil {
				logger.Debug("status publish failed", "error", err)
			}
		}
	}
}

// discoveryFanout forwards discoveries to the notification dispatcher and
// mirrors them onto the telemetry topic.
type discoveryFanout struct {
	next      reconcile.Dispatcher
	telemetry *mqtt.Client
	logger    *logx.Logger
}

func (f *discoveryFanout) NotifyDiscoveries(quizzes []api.Quiz) {
	f.next.NotifyDiscoveries(quizzes)
	if err := f.telemetry.PublishDiscoveries(quizzes); err != nil {
		f.logger.Debug("discovery publish failed", "error", err)
	}
}

// loadUser resolves the signed-in user: flags win and are persisted,
// otherwise the stored identity from a previous run is reused.
func loadUser(kv store.Store, userID, token string, logger *logx.Logger) *pkg.UserContext {
	if userID != "" {
		user := &pkg.UserContext{UserID: userID, AuthToken: token}
		data, err := json.Marshal(user)
		if err == nil {
			err = kv.Put(store.KeyUserInfo, data)
		}
		if err != nil {
			logger.Warn("failed to persist user identity", "error", err)
		}
		return user
	}

	data, err := kv.Get(store.KeyUserInfo)
	if err != nil {
		return nil
	}
	var user pkg.UserContext
	if err := json.Unmarshal(data, &user); err != nil {
		logger.Warn("stored user identity unreadable", "error", err)
		return nil
	}
	return &user
}

// mqttConfig maps the daemon configuration onto the MQTT client config.
// An empty broker leaves telemetry publishing disabled.
func mqttConfig(cfg *config.Config) *mqtt.Config {
	mc := mqtt.DefaultConfig()
	mc.TopicPrefix = cfg.MQTTTopic
	if cfg.MQTTBroker == "" {
		return mc
	}

	mc.Enabled = true
	broker := cfg.MQTTBroker
	if u, err := url.Parse(broker); err == nil && u.Host != "" {
		mc.Broker = u.Hostname()
		if p, err := strconv.Atoi(u.Port()); err == nil {
			mc.Port = p
		}
	} else {
		mc.Broker = broker
	}
	return mc
}
