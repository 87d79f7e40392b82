package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/driftsound/driftsound/internal/conf"
	"github.com/driftsound/driftsound/internal/cookie"
	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/logger"
	"github.com/driftsound/driftsound/internal/mainloop"
	"github.com/driftsound/driftsound/internal/mem"
	"github.com/driftsound/driftsound/internal/observability"
	"github.com/driftsound/driftsound/internal/observability/metrics"
	"github.com/driftsound/driftsound/internal/protocol"
)

// Resource-pressure thresholds for the host monitor. Not currently
// exposed in conf.Settings; the teacher's own system_monitor.go hardcodes
// similar warning/critical pairs rather than making them configurable.
const (
	memCriticalPercent = 90.0
	memWarningPercent  = 75.0
	cpuCriticalPercent = 90.0
	cpuWarningPercent  = 75.0

	deviceTick = 20 * time.Millisecond
)

func runCommand(settings **conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the sound server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*settings)
		},
	}
}

func run(settings *conf.Settings) error {
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetGlobal(cl)
	defer func() { _ = cl.Close() }()

	log := cl.Module("main")

	conf.PrintUserInfo()

	if settings.Sentry.Enabled {
		environment := "production"
		if settings.Debug {
			environment = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              settings.Sentry.DSN,
			Debug:            settings.Sentry.Debug,
			AttachStacktrace: true,
			Environment:      environment,
			Release:          "driftsoundd@" + version,
			SampleRate:       settings.Sentry.SampleRate,
		}); err != nil {
			log.Warn("failed to initialize Sentry, continuing without error telemetry", logger.Error(err))
		} else {
			reporter := errors.NewSentryReporter(true)
			errors.SetTelemetryReporter(reporter)
			defer sentry.Flush(2 * time.Second)

			if eb, err := startEventBus(reporter); err != nil {
				log.Warn("failed to start event bus, error reporting stays synchronous", logger.Error(err))
			} else if eb != nil {
				defer func() { _ = eb.Shutdown(2 * time.Second) }()
			}
		}
	}

	cookiePath, err := expandTilde(settings.Auth.CookiePath)
	if err != nil {
		return fmt.Errorf("resolving cookie path: %w", err)
	}
	ck, err := cookie.Load(cookiePath)
	if err != nil {
		return fmt.Errorf("loading authentication cookie: %w", err)
	}

	spec, err := defaultSampleSpec(settings)
	if err != nil {
		return fmt.Errorf("resolving default sample spec: %w", err)
	}

	var reg *prometheus.Registry
	var m *metrics.Metrics
	var metricsSrv *metrics.Server
	if settings.Telemetry.Enabled {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
		metricsSrv = metrics.NewServer(settings.Telemetry.Listen, reg)
	}

	allowedGID, allowedGIDSet := lookupAudioGID(log)

	trustedSubnets, err := parseTrustedSubnets(settings.Auth.TrustedSubnets)
	if err != nil {
		return fmt.Errorf("parsing auth.trustedsubnets: %w", err)
	}

	loop := mainloop.New()
	srv := protocol.New(loop, protocol.Config{
		MaxConnections:   settings.Connection.MaxClients,
		ServerUID:        uint32(os.Getuid()),
		AllowedGID:       allowedGID,
		AllowedGIDSet:    allowedGIDSet,
		Cookie:           ck,
		DeviceTick:       deviceTick,
		Metrics:          m,
		AllowAnonymous:   settings.Auth.AllowAnonymous,
		TrustedSubnets:   trustedSubnets,
		HandshakeTimeout: settings.Auth.HandshakeTimeout,
	})

	sk, _ := srv.AddSink(settings.Server.DefaultSink, spec)
	srv.AddSource(settings.Server.DefaultSource, sk.Monitor())
	if m != nil {
		m.WatchDispatchPending(reg, srv.TotalPendingReplies)
	}

	monitor := observability.NewResourceMonitor(30*time.Second, observability.Thresholds{
		MemoryCriticalPercent: memCriticalPercent,
		MemoryWarningPercent:  memWarningPercent,
		CPUCriticalPercent:    cpuCriticalPercent,
		CPUWarningPercent:     cpuWarningPercent,
	}, srv)
	monitor.Start()
	defer monitor.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown signal received, stopping")
		cancel()
	}()

	go loop.Run(ctx)

	var wg sync.WaitGroup

	if settings.Sockets.Unix.Enabled {
		ln, err := listenUnix(settings.Sockets.Unix.Path, os.FileMode(settings.Sockets.Unix.Mode), cl.Module("protocol"))
		if err != nil {
			return fmt.Errorf("starting unix listener: %w", err)
		}
		log.Info("listening on unix socket", logger.String("path", settings.Sockets.Unix.Path))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, ln); err != nil {
				log.Error("unix listener stopped", logger.Error(err))
			}
		}()
	}

	if settings.Sockets.TCP.Enabled {
		ln, err := net.Listen("tcp", settings.Sockets.TCP.Listen)
		if err != nil {
			return fmt.Errorf("starting tcp listener: %w", err)
		}
		log.Info("listening on tcp socket", logger.String("addr", settings.Sockets.TCP.Listen))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, ln); err != nil {
				log.Error("tcp listener stopped", logger.Error(err))
			}
		}()
	}

	if metricsSrv != nil {
		log.Info("serving metrics", logger.String("addr", settings.Telemetry.Listen))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsSrv.Run(ctx); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	log.Info("driftsoundd started", logger.String("version", version))
	wg.Wait()
	log.Info("driftsoundd stopped")
	return nil
}

// defaultSampleSpec builds the sample spec new sinks/sources are created
// with from Settings.Server's configured defaults.
func defaultSampleSpec(settings *conf.Settings) (mem.SampleSpec, error) {
	format, err := mem.ParseFormat(settings.Server.DefaultSampleFormat)
	if err != nil {
		return mem.SampleSpec{}, err
	}
	spec := mem.SampleSpec{
		Format:   format,
		Rate:     settings.Server.DefaultSampleRate,
		Channels: settings.Server.DefaultChannels,
	}
	if !spec.Valid() {
		return mem.SampleSpec{}, fmt.Errorf("invalid default sample spec %+v", spec)
	}
	return spec, nil
}

// parseTrustedSubnets turns auth.trustedsubnets' CIDR strings (already
// validated by conf.ValidateSettings) into *net.IPNet for protocol.Config.
func parseTrustedSubnets(cidrs []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		_, subnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		nets = append(nets, subnet)
	}
	return nets, nil
}

// lookupAudioGID resolves the "audio" group so local peer-credential
// authentication (spec.md §4.7 step 3) can accept connections from any
// member of that group, not just the server's own uid. Mirrors
// conf.PrintUserInfo's own "audio" group check.
func lookupAudioGID(log logger.Logger) (uint32, bool) {
	group, err := user.LookupGroup("audio")
	if err != nil {
		log.Debug("no \"audio\" group on this host, local auth will only accept the server's own uid")
		return 0, false
	}
	gid, err := strconv.ParseUint(group.Gid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(gid), true
}
