package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/jgoldverg/nexusgw/cli/output"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"github.com/spf13/cobra"
)

type ClientOpts struct {
	gateway     string
	controlPort int
	port        int
	timeout     time.Duration
	force       bool
}

func ClientCommand() *cobra.Command {
	var opts ClientOpts
	cmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"c"},
		Short:   "Speak the control protocol to a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.gateway, "gateway", "127.0.0.1", "Gateway host")
	cmd.PersistentFlags().IntVar(&opts.controlPort, "control-port", 0, "Gateway control port (default from config)")
	cmd.PersistentFlags().IntVar(&opts.port, "port", 0, "Local port the gateway replies to (0 = ephemeral)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Second, "How long to wait for a reply")

	connect := &cobra.Command{
		Use:   "connect",
		Short: "Open or join the gateway session",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := output.NewPrinter().WithWriter(cmd.OutOrStdout())
			return runClient(cmd, &opts, func(port int32) []byte {
				req := nexuswire.ConnectRequest{Port: port, Force: opts.force}
				buf := make([]byte, nexuswire.ConnectMinLen)
				_, _ = req.Encode(buf)
				return buf
			}, func(reply []byte) error {
				var r nexuswire.ConnectResult
				if _, err := r.Decode(reply); err != nil {
					return err
				}
				fields := map[string]any{
					"status":       r.Status,
					"control_port": r.ControlPort,
					"message":      r.Message,
				}
				if r.Failed {
					p.Error("connect rejected", fields)
				} else {
					p.Success("connected", fields)
				}
				return nil
			}, nexuswire.CmdConnectResult)
		},
	}
	connect.Flags().BoolVar(&opts.force, "force", false, "Take over a session owned by another address")

	ping := &cobra.Command{
		Use:   "ping",
		Short: "Ping the gateway and print the round trip",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := output.NewPrinter().WithWriter(cmd.OutOrStdout())
			sent := time.Now()
			return runClient(cmd, &opts, nexuswire.EncodePing, func(reply []byte) error {
				ts, err := nexuswire.PingTimestamp(reply)
				if err != nil {
					return err
				}
				fields := map[string]any{
					"rtt":       time.Since(sent).Round(time.Microsecond).String(),
					"timestamp": strconv.FormatFloat(ts, 'f', 6, 64),
				}
				if reply[nexuswire.CmdOffset] == nexuswire.CmdReset {
					fields["status"] = reply[3]
					p.Warn("ping refused", fields)
					return nil
				}
				p.Success("pong", fields)
				return nil
			}, nexuswire.CmdPong, nexuswire.CmdReset)
		},
	}

	disconnect := &cobra.Command{
		Use:   "disconnect",
		Short: "Remove a port from the gateway session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				return fmt.Errorf("--port is required for disconnect")
			}
			// sent from an ephemeral port: the session's own port may be in use
			target := int32(opts.port)
			_, err := Exchange(cmd.Context(), opts.gateway, controlPortFor(cmd, &opts), 0, opts.timeout, func(int32) []byte {
				req := nexuswire.DisconnectRequest{Port: target}
				buf := make([]byte, nexuswire.DisconnectMinLen)
				_, _ = req.Encode(buf)
				return buf
			})
			if err != nil {
				return err
			}
			output.NewPrinter().WithWriter(cmd.OutOrStdout()).Info("disconnect sent", map[string]any{"port": target})
			return nil
		},
	}

	cmd.AddCommand(connect, ping, disconnect)
	return cmd
}

func controlPortFor(cmd *cobra.Command, opts *ClientOpts) int {
	if opts.controlPort != 0 {
		return opts.controlPort
	}
	if cfg := GetGatewayConfig(cmd); cfg != nil {
		return cfg.ControlPort
	}
	return nexuswire.ControlPort
}

func runClient(cmd *cobra.Command, opts *ClientOpts, build func(port int32) []byte, show func([]byte) error, want ...byte) error {
	reply, err := Exchange(cmd.Context(), opts.gateway, controlPortFor(cmd, opts), opts.port, opts.timeout, build, want...)
	if err != nil {
		return err
	}
	return show(reply)
}

// Exchange binds localPort, sends the datagram built for the bound port to
// the gateway and, when want is non-empty, waits for the first reply whose
// command byte is in want. Status updates arriving in between are skipped.
func Exchange(ctx context.Context, gateway string, controlPort, localPort int, timeout time.Duration, build func(port int32) []byte, want ...byte) ([]byte, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(gateway, strconv.Itoa(controlPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("bind local port %d: %w", localPort, err)
	}
	defer conn.Close()

	port := int32(conn.LocalAddr().(*net.UDPAddr).Port)
	if _, err := conn.WriteToUDP(build(port), raddr); err != nil {
		return nil, fmt.Errorf("send to %s: %w", raddr, err)
	}
	if len(want) == 0 {
		return nil, nil
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, fmt.Errorf("no reply from %s within %s", raddr, timeout)
			}
			return nil, err
		}
		if cmd, ok := nexuswire.PeekCommand(buf[:n]); ok && slices.Contains(want, cmd) {
			return append([]byte(nil), buf[:n]...), nil
		}
	}
}
