// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command seedd is the daemon: it enumerates BitBabbler USB HWRNG devices,
// runs one acquisition worker per device into a shared entropy pool, and
// serves the pool to the kernel entropy feed, the UDP/FD-writer/watch
// consumers, a JSON control socket, and a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bit-babbler/seedd/ftdi"
	"github.com/bit-babbler/seedd/internal/babbler"
	"github.com/bit-babbler/seedd/internal/config"
	"github.com/bit-babbler/seedd/internal/consumer"
	"github.com/bit-babbler/seedd/internal/controlsock"
	"github.com/bit-babbler/seedd/internal/kernelfeed"
	"github.com/bit-babbler/seedd/internal/pool"
	"github.com/bit-babbler/seedd/internal/registry"
	"github.com/bit-babbler/seedd/internal/statsexport"
)

func main() {
	configPath := flag.String("config", "/etc/seedd/seedd.json", "path to the JSON configuration document")
	logLevel := flag.String("log-level", "info", "logrus level: trace, debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seedd: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	if err := run(*configPath, entry); err != nil {
		entry.WithError(err).Error("seedd: fatal")
		os.Exit(1)
	}
}

func run(configPath string, log *logrus.Entry) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pool.New(cfg.PoolSize)
	mon := registry.NewMonitor()
	groups := make(map[uint]*pool.Group)

	streams, enumErr := ftdi.OpenRNGStreams(func(serial string) ftdi.Config {
		idleInit, _ := config.Duration(cfg.DefaultIdleSleepInit)
		idleMax, _ := config.Duration(cfg.DefaultIdleSleepMax)
		suspend, _ := config.Duration(cfg.DefaultSuspendAfter)
		return ftdi.Config{
			Bitrate:      cfg.BitrateFor(serial),
			Folding:      cfg.FoldingFor(serial),
			ChunkSize:    cfg.ChunkSizeFor(serial),
			IdleInit:     idleInit,
			IdleMax:      idleMax,
			SuspendAfter: suspend,
		}
	})
	if enumErr != nil {
		log.WithError(enumErr).Warn("seedd: some devices failed to open")
	}
	if len(streams) == 0 {
		return fmt.Errorf("seedd: no usable devices found")
	}

	groupSizes := make(map[uint]int, len(cfg.Groups))
	for _, gc := range cfg.Groups {
		groupSizes[gc.ID] = gc.Size
	}

	var wg sync.WaitGroup
	for _, s := range streams {
		gid := cfg.GroupFor(s.Serial())
		size := groupSizes[gid]
		if size == 0 {
			size = defaultGroupSize
		}
		g := groupFor(groups, p, gid, size)

		mask, err := g.NextMask()
		if err != nil {
			log.WithError(err).WithField("source", s.Serial()).Error("seedd: group full, device skipped")
			continue
		}

		w := babbler.NewWorker(s, g, mask, p, log)
		mon.Register(w)

		wg.Add(1)
		go func(serial string) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).WithField("source", serial).Error("seedd: worker exited")
			}
			mon.Unregister(serial)
		}(s.Serial())
	}

	startConsumers(ctx, cfg, p, &wg, log)

	if cfg.MetricsListen != "" {
		startMetricsServer(ctx, cfg.MetricsListen, mon, log, &wg)
	}

	if err := startControlSocket(ctx, cfg, mon, &wg, log); err != nil {
		stop()
		wg.Wait()
		return err
	}

	<-ctx.Done()
	log.Info("seedd: shutting down")
	wg.Wait()
	return nil
}

// defaultGroupSize is the per-round pool contribution size for a group with
// no explicit Groups[].Size entry in the config.
const defaultGroupSize = 4096

func groupFor(groups map[uint]*pool.Group, p *pool.Pool, id uint, size int) *pool.Group {
	if g, ok := groups[id]; ok {
		return g
	}
	g := pool.NewGroup(p, id, size)
	groups[id] = g
	return g
}

func startConsumers(ctx context.Context, cfg *config.Config, p *pool.Pool, wg *sync.WaitGroup, log *logrus.Entry) {
	if cfg.Consumers.KernelFeed.Enabled {
		device := cfg.Consumers.KernelFeed.Device
		if device == "" {
			device = "/dev/random"
		}
		refill, _ := config.Duration(cfg.Consumers.KernelFeed.RefillTime)
		f := kernelfeed.NewFeeder(p, device, refill, log.WithField("consumer", "kernelfeed"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("seedd: kernel feed exited")
			}
		}()
	}

	if cfg.Consumers.UDP.Enabled {
		addr, err := net.ResolveUDPAddr("udp", cfg.Consumers.UDP.Listen)
		if err != nil {
			log.WithError(err).Error("seedd: invalid UDP consumer address")
		} else if conn, err := net.ListenUDP("udp", addr); err != nil {
			log.WithError(err).Error("seedd: UDP consumer failed to listen")
		} else {
			src := consumer.NewUDPSource(conn, p, log.WithField("consumer", "udp"))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := src.Run(ctx); err != nil && ctx.Err() == nil {
					log.WithError(err).Error("seedd: UDP consumer exited")
				}
			}()
		}
	}

	if cfg.Consumers.FDWriter.Enabled {
		startFDWriter(ctx, cfg.Consumers.FDWriter, p, wg, log)
	}

	for _, wc := range cfg.Consumers.Watch {
		if !wc.Enabled {
			continue
		}
		delay := time.Duration(wc.DelayMS) * time.Millisecond
		w := consumer.NewWatch(wc.Path, p, wc.BlockSize, delay, wc.MaxBytes, log.WithField("consumer", "watch"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("seedd: watch consumer exited")
			}
		}()
	}
}

func startFDWriter(ctx context.Context, fc config.FDWriterConfig, p *pool.Pool, wg *sync.WaitGroup, log *logrus.Entry) {
	f, err := os.OpenFile(fc.Path, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		log.WithError(err).Error("seedd: FD writer failed to open path")
		return
	}
	done := func(written int64, err error) {
		f.Close()
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("written", written).Warn("seedd: FD writer stopped")
		}
	}
	fw := consumer.NewFDWriter(f, p, fc.ChunkSize, fc.MaxBytes, done, log.WithField("consumer", "fdwriter"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		fw.Run(ctx)
	}()
}

func startMetricsServer(ctx context.Context, addr string, mon *registry.Monitor, log *logrus.Entry, wg *sync.WaitGroup) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(statsexport.New(mon))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("seedd: metrics server failed")
		}
	}()
}

func startControlSocket(ctx context.Context, cfg *config.Config, mon *registry.Monitor, wg *sync.WaitGroup, log *logrus.Entry) error {
	ln, cleanup, err := controlsock.Listen(cfg.ControlSocket, cfg.ControlSocketGroup)
	if err != nil {
		return fmt.Errorf("seedd: control socket: %w", err)
	}
	if ln == nil {
		return nil
	}

	srv := controlsock.NewServer(ln, cleanup, mon, 0, log.WithField("component", "controlsock"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("seedd: control socket exited")
		}
	}()
	return nil
}
