// Command tcpctl drives the transport core over a real Linux Tap device (or
// an in-process loopback pair, for the demo command), exercising listen,
// connect, send and close the way an application built on tcp.Table would.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	root := &cobra.Command{
		Use:   "tcpctl",
		Short: "tcpctl drives a tcpcore transport stack",
	}
	configPath := root.PersistentFlags().String("config", "", "path to a YAML config file (see Config)")
	logLevel := root.PersistentFlags().String("log-level", "info", "logrus level: trace, debug, info, warn, error")

	root.AddCommand(listenCmd(configPath, logLevel))
	root.AddCommand(dialCmd(configPath, logLevel))
	root.AddCommand(demoCmd(logLevel))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(levelName string) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the shutdown
// trigger every long-running tcpctl subcommand waits on.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func listenCmd(configPath, logLevel *string) *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "bind, listen, and echo every connection back to its sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(*logLevel)
			s, err := newStack(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			s.runBackground(ctx, g, cfg)

			sock, err := s.table.Open()
			if err != nil {
				return err
			}
			if err := s.table.Bind(sock, port); err != nil {
				return err
			}
			if err := s.table.Listen(sock, 8); err != nil {
				return err
			}
			log.Infof("listening on :%d", port)

			g.Go(func() error { return acceptEchoLoop(ctx, s, sock, log) })

			return g.Wait()
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 7, "TCP port to listen on")
	return cmd
}

// acceptEchoLoop accepts connections until ctx is cancelled, echoing every
// received chunk back to its sender before closing.
func acceptEchoLoop(ctx context.Context, s *stack, sock int, log *logrus.Logger) error {
	for {
		child, peer, err := s.table.Accept(ctx, sock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Infof("accepted connection from %s", peer)
		go echoConnection(ctx, s, child, peer, log)
	}
}

func echoConnection(ctx context.Context, s *stack, sock int, peer netip.AddrPort, log *logrus.Logger) {
	buf := make([]byte, 4096)
	for {
		n, err := s.table.Recv(ctx, sock, buf)
		if err != nil || n == 0 {
			break
		}
		if _, err := s.table.Send(sock, buf[:n]); err != nil {
			log.WithError(err).Warn("echo send failed")
			break
		}
	}
	if err := s.table.Close(ctx, sock); err != nil {
		log.WithError(err).Warn("close failed")
	}
	log.Infof("connection from %s closed", peer)
}

func dialCmd(configPath, logLevel *string) *cobra.Command {
	var peerAddr string
	var message string
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "connect to a peer, send one message, print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(*logLevel)
			s, err := newStack(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			s.runBackground(gctx, g, cfg)

			peer, err := netip.ParseAddrPort(peerAddr)
			if err != nil {
				return fmt.Errorf("tcpctl: parse --peer: %w", err)
			}

			sock, err := s.table.Open()
			if err != nil {
				return err
			}
			if err := s.table.Connect(gctx, sock, peer); err != nil {
				return err
			}
			log.Infof("connected to %s", peer)
			if _, err := s.table.Send(sock, []byte(message)); err != nil {
				return err
			}
			buf := make([]byte, 4096)
			n, err := s.table.Recv(gctx, sock, buf)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", buf[:n])
			return s.table.Close(gctx, sock)
		},
	}
	cmd.Flags().StringVar(&peerAddr, "peer", "", "peer address, host:port")
	cmd.Flags().StringVar(&message, "message", "hello", "message to send after connecting")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
