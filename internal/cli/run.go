package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/hgpeer/internal/activities"
	"github.com/roach88/hgpeer/internal/config"
	"github.com/roach88/hgpeer/internal/journal"
	"github.com/roach88/hgpeer/internal/metrics"
	"github.com/roach88/hgpeer/internal/peer"
	"github.com/roach88/hgpeer/internal/workflow"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	Duration    time.Duration
	Discovery   time.Duration
	MetricsAddr string
}

// PeerSummary describes one running peer and the identities it learned.
type PeerSummary struct {
	Name    string   `json:"name"`
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Known   []string `json:"known"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Peers    []PeerSummary `json:"peers"`
	Journal  string        `json:"journal,omitempty"`
	Metrics  string        `json:"metrics,omitempty"`
	Complete bool          `json:"discovery_complete"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config.cue>",
		Short: "Start the configured peers",
		Long: `Start every peer named in a CUE configuration on one loopback network.

Peers affirm each other's identities as they join (unless
bootstrap.affirm_identity is false), record their activities to the journal
when one is configured, and export Prometheus metrics when metrics are
enabled. The command runs until interrupted or until --duration elapses.

Example:
  hgpeer run peers.cue
  hgpeer run --db ./journal.db --duration 10s peers.cue
  hgpeer run --metrics-addr :9464 peers.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeers(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (overrides journal.path)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.Discovery, "discovery-timeout", 5*time.Second, "how long to wait for peers to affirm each other")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address when metrics are enabled")

	return cmd
}

func runPeers(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		return reportConfigError(formatter, err)
	}

	logger := slog.New(cfg.Log.Handler(cmd.ErrOrStderr(), opts.Verbose))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	result := RunResult{Peers: []PeerSummary{}}

	var jnl *journal.Journal
	if dbPath := firstNonEmpty(opts.Database, cfg.Journal.Path); dbPath != "" {
		jnl, err = journal.Open(dbPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "cannot open journal", err.Error())
		}
		defer func() {
			if closeErr := jnl.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		result.Journal = dbPath
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
	}

	network := peer.NewNetwork(peer.WithNetworkLogger(logger))
	peers := make([]*peer.Peer, 0, len(cfg.AllPeers()))
	defer func() {
		// Reverse order so late joiners leave first.
		for i := len(peers) - 1; i >= 0; i-- {
			if stopErr := peers[i].Stop(); stopErr != nil {
				logger.Error("error stopping peer", "peer", peers[i].Identity().Name, "error", stopErr)
			}
		}
	}()

	for _, pc := range cfg.AllPeers() {
		p, err := startPeer(ctx, network, cfg, pc, jnl, registry, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodePeer, fmt.Sprintf("cannot start peer %s", pc.Name), err.Error())
		}
		peers = append(peers, p)
		formatter.VerboseLog("started %s at %s", pc.Name, pc.Address)
	}

	if cfg.Bootstrap.AffirmIdentity {
		result.Complete = awaitDiscovery(ctx, peers, opts.Discovery)
		if !result.Complete {
			logger.Warn("peers did not affirm every identity in time", "timeout", opts.Discovery)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if registry != nil && opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		result.Metrics = opts.MetricsAddr
		g.Go(func() error {
			logger.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if !formatter.IsJSON() {
		fmt.Fprintf(formatter.Writer, "Started %d peer(s). Press Ctrl-C to stop.\n", len(peers))
	}

	g.Go(func() error {
		if opts.Duration > 0 {
			select {
			case <-time.After(opts.Duration):
			case <-gctx.Done():
			}
		} else {
			<-gctx.Done()
		}
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "run failed", err.Error())
	}

	for _, p := range peers {
		result.Peers = append(result.Peers, summarize(p))
	}
	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	writeRunText(formatter.Writer, result)
	return nil
}

func startPeer(ctx context.Context, network *peer.Network, cfg *config.Config, pc config.PeerConfig,
	jnl *journal.Journal, registry *prometheus.Registry, logger *slog.Logger) (*peer.Peer, error) {
	endpoint, err := network.Endpoint(pc.Address)
	if err != nil {
		return nil, err
	}
	plog := logger.With("peer", pc.Name)

	mopts := []workflow.Option{
		workflow.WithLogger(plog),
		workflow.WithMaxWorkers(cfg.Scheduler.MaxWorkers),
	}
	if jnl != nil {
		mopts = append(mopts, workflow.WithObserver(journal.NewRecorder(jnl, pc.Name, journal.WithLogger(plog))))
	}
	if registry != nil {
		collector := metrics.NewCollector(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithConstLabels(prometheus.Labels{"peer": pc.Name}))
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		mopts = append(mopts, workflow.WithObserver(collector))
	}

	p, err := peer.New(peer.NewIdentity(pc.Name, pc.Hostname, pc.Address), endpoint,
		peer.WithLogger(plog),
		peer.WithAffirmIdentity(cfg.Bootstrap.AffirmIdentity),
		peer.WithManagerOptions(mopts...))
	if err != nil {
		return nil, err
	}
	if err := activities.Register(p.Manager()); err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// awaitDiscovery reports whether every peer learned every other peer's
// identity before timeout.
func awaitDiscovery(ctx context.Context, peers []*peer.Peer, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		complete := true
		for _, p := range peers {
			if len(p.Peers()) < len(peers)-1 {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func summarize(p *peer.Peer) PeerSummary {
	id := p.Identity()
	s := PeerSummary{Name: id.Name, ID: id.ID, Address: p.Address(), Known: []string{}}
	for _, known := range p.Peers() {
		s.Known = append(s.Known, known.String())
	}
	return s
}

func writeRunText(w io.Writer, result RunResult) {
	for _, p := range result.Peers {
		known := "nobody"
		if len(p.Known) > 0 {
			known = strings.Join(p.Known, ", ")
		}
		fmt.Fprintf(w, "%s (%s) at %s knows %s\n", p.Name, p.ID, p.Address, known)
	}
	if result.Journal != "" {
		fmt.Fprintf(w, "Journal: %s\n", result.Journal)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
