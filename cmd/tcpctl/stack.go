package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xv6net/tcpcore/driver"
	"github.com/xv6net/tcpcore/metrics"
	"github.com/xv6net/tcpcore/netif"
	"github.com/xv6net/tcpcore/tcp"
)

// stack bundles the pieces tcpctl wires together for any run: the CBT, the
// interface record it is attached to, and (if the config asked for a real
// link) the Tap device feeding it.
type stack struct {
	table *tcp.Table
	iface *netif.Interface
	tap   *driver.Tap
}

func newStack(cfg Config, log *logrus.Logger) (*stack, error) {
	addr, err := cfg.addr()
	if err != nil {
		return nil, fmt.Errorf("tcpctl: parse interface.addr: %w", err)
	}
	iface := &netif.Interface{Name: cfg.Interface.Name, Addr: addr, MTU: cfg.Interface.MTU}
	protocols := &netif.Protocols{}
	table := tcp.NewTable(slogFromLogrus(log))

	s := &stack{table: table, iface: iface}
	if cfg.Tap.Enabled {
		var prefix netip.Prefix
		if cfg.Tap.Prefix != "" {
			prefix, err = netip.ParsePrefix(cfg.Tap.Prefix)
			if err != nil {
				return nil, fmt.Errorf("tcpctl: parse tap.prefix: %w", err)
			}
		}
		tap, err := driver.NewTap(cfg.Interface.Name, prefix)
		if err != nil {
			return nil, fmt.Errorf("tcpctl: create tap: %w", err)
		}
		tap.Attach(iface, protocols)
		if err := table.Attach(iface, tap, protocols); err != nil {
			return nil, err
		}
		s.tap = tap
	} else {
		return nil, fmt.Errorf("tcpctl: listen/dial require tap.enabled in config; use the demo command otherwise")
	}
	return s, nil
}

// runBackground starts the tap read loop, a periodic retransmission sweep,
// and (if configured) a Prometheus exporter, all under one errgroup tied to
// ctx: cancelling ctx (Ctrl-C, or a sibling failing) stops all three.
func (s *stack) runBackground(ctx context.Context, g *errgroup.Group, cfg Config) {
	if s.tap != nil {
		g.Go(s.tap.ReadLoop)
	}
	interval := time.Duration(cfg.RetransmitSweep.IntervalSeconds) * time.Second
	if interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.table.SweepRetransmissions(3 * time.Second)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(s.table))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
}

