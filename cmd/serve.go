// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/internal/api"
	"github.com/Thermoquad/vestat/internal/history"
	"github.com/Thermoquad/vestat/internal/metrics"
	"github.com/Thermoquad/vestat/internal/poller"
	"github.com/Thermoquad/vestat/internal/publish"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine as a service with HTTP API, MQTT and history",
	Long: `Run the protocol engine until interrupted, exposing the device through
the services enabled in the config file:

  api:      REST API, /metrics and a /ws change stream
  mqtt:     every committed register change published to <topic>/<register>
  history:  every committed register change stored in SQLite
  poll:     HEX registers read periodically

The API is always started when --listen is given.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP API listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveListen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = serveListen
	}

	s, err := openSession(ctx, vedirect.Config{})
	if err != nil {
		return err
	}

	logger.Info().Str("connection", s.Info()).Msg("engine started")

	// Shutdown order: engine, workers, then the services they feed
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	spawn := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}
	var closers []func()
	defer func() {
		s.Close()
		cancelWorkers()
		workers.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path, logger)
		if err != nil {
			return err
		}
		closers = append(closers, func() { store.Close() })
		s.dir.SubscribeAll(store.Listener())
		spawn(store.Run)
	}

	if cfg.MQTT.Enabled {
		pub, client, err := publish.Connect(ctx, publish.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Encoding: cfg.MQTT.Encoding,
		}, logger)
		if err != nil {
			return err
		}
		closers = append(closers, func() { client.Disconnect(250) })
		s.dir.SubscribeAll(pub.Listener())
		spawn(pub.Run)
	}

	if cfg.API.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			metrics.NewCollector(s.engine),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		server := api.NewServer(cfg.API.Listen, s.engine, s.dir, registry, logger)
		s.dir.SubscribeAll(server.Hub().Listener())
		if err := server.Start(ctx); err != nil {
			return err
		}
		closers = append(closers, func() {
			if err := server.Stop(context.Background()); err != nil {
				logger.Error().Err(err).Msg("API shutdown failed")
			}
		})
	}

	if len(cfg.Poll) > 0 {
		jobs := make([]poller.Job, 0, len(cfg.Poll))
		for _, p := range cfg.Poll {
			if _, err := s.dir.Resolve(p.Register); err != nil {
				return fmt.Errorf("poll %s: %w", p.Register, err)
			}
			jobs = append(jobs, poller.Job{
				Register: p.Register,
				Interval: time.Duration(p.IntervalMs) * time.Millisecond,
			})
		}
		spawn(poller.New(s.engine, jobs, logger).Run)
	}

	err = <-s.Done()
	stop()
	logger.Info().Msg("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
