package main

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/cobra"

	"github.com/xv6net/tcpcore/driver"
	"github.com/xv6net/tcpcore/netif"
	"github.com/xv6net/tcpcore/tcp"
)

// demoCmd runs a full handshake, data exchange, and graceful close between
// two in-process tables wired back-to-back with driver.Loopback, so the
// whole stack can be exercised without a Tap device or root privileges.
func demoCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "connect two in-process stacks over a loopback link and exchange one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*logLevel)

			clientIface := &netif.Interface{Name: "client0", Addr: netip.MustParseAddr("10.0.0.1"), MTU: 1500}
			serverIface := &netif.Interface{Name: "server0", Addr: netip.MustParseAddr("10.0.0.2"), MTU: 1500}
			clientProtos := &netif.Protocols{}
			serverProtos := &netif.Protocols{}

			clientTable := tcp.NewTable(slogFromLogrus(log))
			serverTable := tcp.NewTable(slogFromLogrus(log))

			if err := clientTable.Attach(clientIface, driver.NewLoopback(serverProtos), clientProtos); err != nil {
				return err
			}
			if err := serverTable.Attach(serverIface, driver.NewLoopback(clientProtos), serverProtos); err != nil {
				return err
			}

			srv, err := serverTable.Open()
			if err != nil {
				return err
			}
			if err := serverTable.Bind(srv, 9000); err != nil {
				return err
			}
			if err := serverTable.Listen(srv, 1); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			cli, err := clientTable.Open()
			if err != nil {
				return err
			}
			if err := clientTable.Connect(ctx, cli, netip.AddrPortFrom(serverIface.Addr, 9000)); err != nil {
				return err
			}

			child, peer, err := serverTable.Accept(ctx, srv)
			if err != nil {
				return err
			}
			log.Infof("server accepted connection from %s", peer)

			if _, err := clientTable.Send(cli, []byte("hello from tcpctl demo")); err != nil {
				return err
			}

			buf := make([]byte, 256)
			n, err := serverTable.Recv(ctx, child, buf)
			if err != nil {
				return err
			}
			fmt.Printf("server received: %q\n", buf[:n])

			// The client closes actively; the server reacts the way a
			// passive peer does: Recv returns EOF once the client's FIN
			// arrives, and only then does it close its own half. Running
			// both sides concurrently is required: the client's Close
			// blocks until the server's own FIN eventually arrives.
			closeErr := make(chan error, 2)
			go func() { closeErr <- clientTable.Close(ctx, cli) }()
			go func() {
				n, err := serverTable.Recv(ctx, child, buf)
				if err != nil {
					closeErr <- err
					return
				}
				if n != 0 {
					closeErr <- fmt.Errorf("tcpctl: expected EOF from closing client, got %d bytes", n)
					return
				}
				closeErr <- serverTable.Close(ctx, child)
			}()
			for i := 0; i < 2; i++ {
				if err := <-closeErr; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
