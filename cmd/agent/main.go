/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/graymoon-build/graymoon/internal/agent"
)

func main() {
	var development bool
	pflag.BoolVar(&development, "development", false, "log in development format")
	pflag.Parse()

	zlog, err := buildLogger(development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	log := zapr.NewLogger(zlog).WithName("graymoon-agent")

	cfg, err := agent.LoadConfig()
	if err != nil {
		log.Error(err, "loading configuration")
		os.Exit(1)
	}

	a := agent.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, log)

	log.Info("starting agent", "version", agent.Version, "hub", cfg.AppHubURL)
	if err := a.Run(ctx); err != nil {
		log.Error(err, "agent exited")
		os.Exit(1)
	}
}

func buildLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
