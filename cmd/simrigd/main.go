package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simrig/simrig/internal/device"
	"github.com/simrig/simrig/internal/logging"
	"github.com/simrig/simrig/internal/scheduler"
	"github.com/simrig/simrig/internal/stream"
)

var startedAt = time.Now()

func main() {
	logging.ConfigureRuntime()
	log := logging.Component("simrigd")

	path := "simrigd.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := loadConfig(path)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	motor := device.NewMotor()
	collection := scheduler.NewCollection()

	for _, ec := range cfg.Endpoints {
		ep, err := stream.New(ec.Protocol, ec.Stream, motor.Commands(), motor.Members())
		if err != nil {
			log.Fatal().Str("protocol", ec.Protocol).Err(err).Msg("endpoint construction failed")
		}
		if err := collection.Add(ep); err != nil {
			log.Fatal().Str("protocol", ec.Protocol).Err(err).Msg("endpoint registration failed")
		}
		if err := collection.SetRunning(ec.Protocol, true); err != nil {
			log.Fatal().Str("protocol", ec.Protocol).Err(err).Msg("endpoint start failed")
		}
		log.Info().Str("protocol", ec.Protocol).Int("port", ec.Stream.Port).Msg("endpoint running")
	}

	if cfg.StatusAddr != "" {
		protocols := collection.Protocols()
		go runStatusServer(cfg.StatusAddr, protocols)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Dur("cycle", cfg.Cycle).Msg("entering scheduler loop")
loop:
	for {
		select {
		case sig := <-sigc:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			break loop
		default:
		}
		collection.Tick(cfg.Cycle)
		motor.Step()
	}

	// Explicit teardown releases every listener and connection.
	for name, running := range collection.RunningAll() {
		if !running {
			continue
		}
		if err := collection.SetRunning(name, false); err != nil {
			log.Warn().Str("protocol", name).Err(err).Msg("endpoint stop failed")
		}
	}
}

func runStatusServer(addr string, protocols []string) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(startedAt).String(),
			"service":   "simrigd",
			"protocols": protocols,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if err := r.Run(addr); err != nil {
		log := logging.Component("status")
		log.Error().Err(err).Msg("status server failed")
	}
}
