package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/obsserver"
	"github.com/andywolf/agentium/internal/orchconfig"
	"github.com/andywolf/agentium/internal/orchestrator"
	"github.com/andywolf/agentium/internal/version"
	"github.com/andywolf/agentium/internal/workflow"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("[SETUP] jeeves-orchestrator starting (%s)", version.Info())

	cfg, err := orchconfig.Load()
	if err != nil {
		log.Fatalf("[ERROR] failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("[ERROR] failed to create data dir %s: %v", cfg.DataDir, err)
	}

	store := issuestate.NewStore(cfg.DataDir)
	workflowStore := workflow.NewStore(cfg.DataDir + "/workflows")

	logger := log.New(os.Stdout, "", log.LstdFlags)
	orch := orchestrator.New(orchestrator.Config{
		Store:         store,
		WorkflowStore: workflowStore,
		Logger:        logger,
	})

	if active, err := store.LoadActiveIssue(); err != nil {
		log.Printf("[ERROR] failed to read active-issue.json: %v", err)
	} else if active != nil {
		ref := issuestate.IssueRef{Owner: active.Owner, Repo: active.Repo, Number: active.Number}
		workDir := filepath.Join(cfg.DataDir, "worktrees", active.Owner, active.Repo, fmt.Sprintf("issue-%d", active.Number))
		if err := orch.SetIssue(ref, workDir); err != nil {
			log.Printf("[ERROR] failed to reattach to active issue %s/%s#%d: %v", active.Owner, active.Repo, active.Number, err)
		} else {
			log.Printf("[SETUP] reattached to active issue %s/%s#%d", active.Owner, active.Repo, active.Number)
		}
	}

	server := obsserver.NewServer(obsserver.Config{
		Store:          store,
		WorkflowStore:  workflowStore,
		Orchestrator:   orch,
		AllowRemoteRun: cfg.AllowRemoteRun,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The signal-watcher, the shutdown sequence and the HTTP server run
	// as three goroutines joined by an errgroup: a signal or a serve
	// error cancels the shared context, the shutdown goroutine then
	// stops the run and the server, and the group carries whichever
	// error (if any) caused that shutdown back to main.
	group, groupCtx := errgroup.WithContext(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	group.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Printf("[SETUP] received signal: %v, shutting down", sig)
			cancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if orch.Status().Running {
			orch.Stop(false, 30*time.Second)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		log.Printf("[SETUP] observation server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	log.Println("[SETUP] jeeves-orchestrator exited cleanly")
}
