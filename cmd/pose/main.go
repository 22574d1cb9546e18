// pose computes the head pose of one parameter vector and prints it as JSON.
//
//	echo '[0.1, ...]' | go run ./cmd/pose -stats /models/param_stats.json
//	go run ./cmd/pose -url http://localhost:8090 -params '[0.1, ...]'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/teslashibe/headpose/internal/config"
	"github.com/teslashibe/headpose/internal/log"
	"github.com/teslashibe/headpose/pkg/client"
	"github.com/teslashibe/headpose/pkg/params"
	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
)

type options struct {
	statsPath string
	url       string
	params    string
	gimbal    pose.Gimbal
	raw       bool
	timeout   time.Duration
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	log.InitWriter(os.Stderr, config.Env(config.EnvLogLevel, "warn"), false)

	if err := run(opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	cfg, err := config.Load()
	if err != nil {
		return options{}, err
	}

	fs := flag.NewFlagSet("pose", flag.ContinueOnError)
	statsPath := fs.String("stats", cfg.ParamsPath, "Normalization statistics file for local evaluation")
	url := fs.String("url", "", "Evaluate remotely on this headpose service instead")
	vector := fs.String("params", "", "Parameter vector as a JSON array (default: read stdin)")
	gimbal := fs.String("gimbal", cfg.Gimbal.Mode.String(), "Gimbal lock check: tolerance or compat")
	raw := fs.Bool("raw", false, "Treat the vector as already denormalized")
	timeout := fs.Duration("timeout", 10*time.Second, "Remote request timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	mode, err := pose.ParseGimbalMode(*gimbal)
	if err != nil {
		return options{}, err
	}
	opts := options{
		statsPath: *statsPath,
		url:       *url,
		params:    *vector,
		gimbal:    pose.Gimbal{Mode: mode, Epsilon: cfg.Gimbal.Epsilon},
		raw:       *raw,
		timeout:   *timeout,
	}
	if opts.url == "" && opts.statsPath == "" && !opts.raw {
		return opts, errors.New("one of -stats, -url or -raw is required")
	}
	return opts, nil
}

func run(opts options, stdin io.Reader, stdout io.Writer) error {
	vector, err := readVector(opts.params, stdin)
	if err != nil {
		return err
	}

	var out protocol.PoseData
	if opts.url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		pd, err := client.New(opts.url).Estimate(ctx, vector)
		if err != nil {
			return err
		}
		out = *pd
	} else {
		res, err := estimateLocal(opts, vector)
		if err != nil {
			return err
		}
		out = protocol.NewPoseData("", "", res)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func estimateLocal(opts options, vector []float64) (pose.Result, error) {
	var (
		stats *pose.Stats
		err   error
	)
	if opts.raw {
		stats, err = params.Identity(len(vector))
	} else {
		stats, err = params.Load(opts.statsPath)
	}
	if err != nil {
		return pose.Result{}, err
	}

	e, err := pose.NewEstimator(stats, pose.WithGimbal(opts.gimbal))
	if err != nil {
		return pose.Result{}, err
	}
	return e.ParsePose(vector)
}

func readVector(arg string, stdin io.Reader) ([]float64, error) {
	src := strings.TrimSpace(arg)
	if src == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		src = strings.TrimSpace(string(data))
	}
	if src == "" {
		return nil, errors.New("no parameter vector given")
	}

	var v []float64
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		return nil, fmt.Errorf("parameter vector must be a JSON array of numbers: %w", err)
	}
	return v, nil
}
