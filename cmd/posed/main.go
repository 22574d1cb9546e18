// posed serves head-pose estimation over HTTP and websocket.
//
//	POSE_PARAMS=/models/param_stats.json go run ./cmd/posed
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/headpose/internal/config"
	"github.com/teslashibe/headpose/internal/log"
	"github.com/teslashibe/headpose/pkg/params"
	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		log.Init("info")
		log.Error("configuration error", "err", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel)

	stats, err := params.Load(cfg.ParamsPathRequired())
	if err != nil {
		log.Error("failed to load statistics", "err", err)
		os.Exit(1)
	}

	estimator, err := pose.NewEstimator(stats, pose.WithGimbal(cfg.Gimbal))
	if err != nil {
		log.Error("failed to create estimator", "err", err)
		os.Exit(1)
	}
	log.Info("estimator ready", "dims", stats.Len(), "gimbal", cfg.Gimbal.Mode, "epsilon", cfg.Gimbal.Epsilon)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := web.NewServer(cfg.Port, estimator).Start(ctx); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

// parseFlags layers command line flags over the environment.
func parseFlags() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	paramsPath := flag.String("params", cfg.ParamsPath, "Normalization statistics file (.json, .yaml)")
	port := flag.String("port", cfg.Port, "HTTP listen port")
	gimbal := flag.String("gimbal", cfg.Gimbal.Mode.String(), "Gimbal lock check: tolerance or compat")
	eps := flag.Float64("gimbal-eps", cfg.Gimbal.Epsilon, "Gimbal lock tolerance")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	mode, err := pose.ParseGimbalMode(*gimbal)
	if err != nil {
		return cfg, err
	}
	cfg.ParamsPath, cfg.Port = *paramsPath, *port
	cfg.Gimbal = pose.Gimbal{Mode: mode, Epsilon: *eps}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
