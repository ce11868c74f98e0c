package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"devloop/internal/api"
	"devloop/internal/build"
	"devloop/internal/kube"
	"devloop/internal/manifest"
	"devloop/internal/portforward"
	"devloop/internal/readiness"
	"devloop/internal/reporting"
	"devloop/internal/scheduler"
	"devloop/internal/watcher"
	"devloop/pkg/logging"
)

var (
	upManifestPath     string
	upWatch            bool
	upControlAddr      string
	upKubeContext      string
	upBuildBinary      string
	upReadinessTimeout time.Duration
	upDebounce         time.Duration
	upVerbose          bool
)

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Bring the whole stack up and keep it converged",
		Long: `Loads the manifest, builds every changed target, deploys everything in
dependency order, establishes the declared port forwards, and then keeps
watching the build contexts: a settled change re-runs exactly the affected
resource and its dependents.

The loop runs until interrupted. While it runs, 'devloop status' and
'devloop reset' talk to it over the local control API.`,
		Args: cobra.NoArgs,
		RunE: runUp,
	}

	cmd.Flags().StringVarP(&upManifestPath, "file", "f", manifest.DefaultFileName, "Path to the manifest file")
	cmd.Flags().BoolVar(&upWatch, "watch", true, "Re-trigger resources when their build context changes")
	cmd.Flags().StringVar(&upControlAddr, "control-addr", api.DefaultAddr, "Listen address for the local control API")
	cmd.Flags().StringVar(&upKubeContext, "kube-context", "", "Kubeconfig context to deploy into (default: current context)")
	cmd.Flags().StringVar(&upBuildBinary, "build-binary", "", "Image build binary (default: docker)")
	cmd.Flags().DurationVar(&upReadinessTimeout, "readiness-timeout", readiness.DefaultTimeout, "How long a resource may take to become healthy")
	cmd.Flags().DurationVar(&upDebounce, "debounce", watcher.DefaultDebounce, "Quiet period before a file change re-triggers")
	cmd.Flags().BoolVarP(&upVerbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func runUp(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if upVerbose {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	m, err := manifest.Load(upManifestPath)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d resource(s) from %s\n", len(m.Resources), upManifestPath)

	cluster, err := kube.NewClient(upKubeContext)
	if err != nil {
		return fmt.Errorf("failed to connect to cluster: %w", err)
	}

	store := reporting.NewStore()
	engine := build.NewEngine(build.NewCache(), &build.DockerBuilder{Binary: upBuildBinary}, m)
	tracker := readiness.NewTracker(cluster, 0, upReadinessTimeout)
	forwards := portforward.NewManager(cluster)

	sched := scheduler.New(scheduler.Options{
		Manifest:  m,
		Builder:   engine,
		Cluster:   cluster,
		Readiness: tracker,
		Forwards:  forwards,
		Store:     store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	var wg sync.WaitGroup

	// Echo every lifecycle transition so the terminal shows convergence live.
	sub := store.Subscribe("")
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sub.Channel {
			if ev.OldState == "" {
				// Initial Pending registration, not a transition.
				continue
			}
			if ev.NewState == reporting.StateError && ev.Snapshot.Err != nil {
				fmt.Printf("  %s: %s -> %s (%v)\n", ev.Name, ev.OldState, ev.NewState, ev.Snapshot.Err)
				continue
			}
			fmt.Printf("  %s: %s -> %s\n", ev.Name, ev.OldState, ev.NewState)
		}
	}()

	if upWatch {
		w, err := watcher.New(m, upDebounce)
		if err != nil {
			sched.Stop()
			return fmt.Errorf("failed to watch build contexts: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range w.Events() {
				fmt.Printf("Change detected in %s, re-triggering...\n", name)
				if err := sched.Reset(name); err != nil {
					logging.Warn("Up", "Could not reset %s: %v", name, err)
				}
			}
		}()
	}

	apiErrCh := make(chan error, 1)
	go func() {
		apiErrCh <- api.Serve(ctx, upControlAddr, api.NewHandler(store, sched, rootCmd.Version))
	}()

	fmt.Println("Dev loop running. Press Ctrl+C to stop.")

	var apiErr error
	select {
	case <-ctx.Done():
	case apiErr = <-apiErrCh:
		// The control API died underneath us (e.g. the port is taken).
		stop()
	}

	fmt.Println("\nShutting down...")
	sched.Stop()
	store.Unsubscribe(sub)
	wg.Wait()
	fmt.Println("All resources torn down.")
	return apiErr
}
