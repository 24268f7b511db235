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
	"go.uber.org/zap"

	"github.com/graymoon-build/graymoon/internal/control"
)

func main() {
	zlog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	log := zapr.NewLogger(zlog).WithName("graymoon-control")

	cfg, err := control.LoadConfig(os.Args[1:])
	if err != nil {
		log.Error(err, "loading configuration")
		os.Exit(1)
	}

	c, err := control.New(cfg)
	if err != nil {
		log.Error(err, "building control service")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, log)

	if err := c.Run(ctx); err != nil {
		log.Error(err, "control service exited")
		os.Exit(1)
	}
}
