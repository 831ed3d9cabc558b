// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tunnels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tombee/tunnelctl/internal/commands/shared"
	"github.com/tombee/tunnelctl/internal/log"
	"github.com/tombee/tunnelctl/internal/tunnel"
)

// shutdownTimeout bounds teardown after connect is interrupted.
const shutdownTimeout = 10 * time.Second

type connectFlags struct {
	name        string
	subdomain   string
	hostname    string
	region      string
	authtoken   string
	agentConfig string
	webAddr     string
	hostHeader  string
	auth        string
	metricsAddr string
}

// NewConnectCommand creates the connect command.
func NewConnectCommand() *cobra.Command {
	var f connectFlags

	cmd := &cobra.Command{
		Use:   "connect [proto] [addr]",
		Short: "Open a tunnel to a local address",
		Long: `Start the ngrok agent and open a tunnel to a local address.

proto is http, tcp or tls (default http). addr is a port or host:port
(default 80). The public URL is printed on stdout. The command keeps the
tunnel open until interrupted, then stops every tunnel and the agent.

The authtoken is taken from --authtoken, then NGROK_AUTHTOKEN, then the
config file, then the system keychain.

Examples:
  # Expose a local web server
  tunnelctl connect http 8080

  # Reserved name and basic auth
  tunnelctl connect http 3000 --name web --auth user:secret

  # Raw TCP with Prometheus metrics
  tunnelctl connect tcp 22 --metrics-addr 127.0.0.1:9090`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, args, f)
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "Tunnel name (random when empty)")
	cmd.Flags().StringVar(&f.subdomain, "subdomain", "", "Subdomain for the public URL")
	cmd.Flags().StringVar(&f.hostname, "hostname", "", "Custom hostname for the public URL")
	cmd.Flags().StringVar(&f.region, "region", "", "Ingress region (us, eu, ap, au, sa, jp, in)")
	cmd.Flags().StringVar(&f.authtoken, "authtoken", "", "Account authtoken")
	cmd.Flags().StringVar(&f.agentConfig, "agent-config", "", "Agent config file")
	cmd.Flags().StringVar(&f.webAddr, "web-addr", "", "Bind address for the agent API (host:port)")
	cmd.Flags().StringVar(&f.hostHeader, "host-header", "", "Host header sent to the local server")
	cmd.Flags().StringVar(&f.auth, "auth", "", "Basic auth for the tunnel (user:pass)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func runConnect(cmd *cobra.Command, args []string, f connectFlags) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := connectOptions(rt, args, f)
	token, source := rt.ResolveAuthtoken(ctx, f.authtoken)
	opts.Authtoken = token
	if source != "" {
		rt.Logger.Debug("authtoken resolved", "source", source)
	}

	if f.metricsAddr != "" {
		srv, err := serveMetrics(f.metricsAddr, rt.Logger)
		if err != nil {
			return shared.NewConfigError("failed to serve metrics", err)
		}
		defer srv.Close()
	}

	agent := rt.NewAgent(newSupervisor(rt))

	spinner := shared.NewSpinnerTo(cmd.ErrOrStderr(), isTerminal(cmd))
	spinner.Start("Starting tunnel")
	publicURL, err := agent.Connect(ctx, opts)
	elapsed := spinner.Stop()
	if err != nil {
		cleanup, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if kerr := agent.Kill(cleanup); kerr != nil {
			rt.Logger.Warn("failed to stop agent", log.Error(kerr))
		}
		return err
	}

	if err := printConnected(cmd, agent, publicURL, elapsed); err != nil {
		return err
	}

	<-ctx.Done()

	cleanup, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(cleanup, agent)
}

// connectOptions merges positional arguments, flags and the config file.
// Flags win over the config file.
func connectOptions(rt *shared.Runtime, args []string, f connectFlags) tunnel.Options {
	opts := tunnel.Options{
		Name:       f.name,
		Subdomain:  f.subdomain,
		Hostname:   f.hostname,
		HostHeader: f.hostHeader,
		Auth:       f.auth,
		Region:     firstNonEmpty(f.region, rt.Config.Agent.Region),
		ConfigPath: firstNonEmpty(f.agentConfig, rt.Config.Agent.ConfigPath),
		WebAddr:    firstNonEmpty(f.webAddr, rt.Config.Agent.WebAddr),
		BinPath:    rt.Config.Agent.BinPath,
	}
	if len(args) > 0 {
		opts.Proto = args[0]
	}
	if len(args) > 1 {
		opts.Addr = args[1]
	}
	return opts
}

func printConnected(cmd *cobra.Command, agent *tunnel.Agent, publicURL string, elapsed time.Duration) error {
	var sess tunnel.Session
	for _, s := range agent.Sessions() {
		if s.PublicURL == publicURL {
			sess = s
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			Name      string `json:"name"`
			PublicURL string `json:"public_url"`
			Proto     string `json:"proto"`
			Addr      string `json:"addr"`
			APIURL    string `json:"api_url"`
		}{
			JSONResponse: shared.NewJSONResponse("connect"),
			Name:         sess.Name,
			PublicURL:    publicURL,
			Proto:        sess.Proto,
			Addr:         sess.Addr,
			APIURL:       agent.URL(),
		})
	}

	errOut := cmd.ErrOrStderr()
	if !shared.GetQuiet() {
		fmt.Fprintln(errOut, shared.RenderOK(fmt.Sprintf("Tunnel %s established in %s", shared.Bold.Render(sess.Name), elapsed.Round(time.Millisecond))))
		fmt.Fprintf(errOut, "  %s %s -> %s\n", shared.Muted.Render("forwarding"), shared.RenderURL(publicURL), sess.Addr)
		fmt.Fprintf(errOut, "  %s %s\n", shared.Muted.Render("agent api "), agent.URL())
		fmt.Fprintln(errOut, shared.Muted.Render("Press Ctrl+C to stop"))
	}
	fmt.Fprintln(cmd.OutOrStdout(), publicURL)
	return nil
}

// shutdown stops every tunnel and then the agent. The agent is stopped even
// when some tunnels fail to stop.
func shutdown(ctx context.Context, agent *tunnel.Agent) error {
	var errs []error
	if err := agent.Disconnect(ctx, ""); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	if err := agent.Kill(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return shared.NewTunnelError("shutdown incomplete", err)
	}
	return nil
}

// serveMetrics serves the Prometheus registry on addr until the returned
// server is closed. The server's Addr holds the bound address.
func serveMetrics(addr string, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", log.Error(err))
		}
	}()
	logger.Info("serving metrics", "addr", srv.Addr)
	return srv, nil
}

func isTerminal(cmd *cobra.Command) bool {
	return cmd.ErrOrStderr() == os.Stderr && shared.ColorEnabled()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
