package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/gate"
	"github.com/agentmux/agentmux/internal/invoker"
	"github.com/agentmux/agentmux/internal/llm"
	"github.com/agentmux/agentmux/internal/persistence"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/stream"
	"github.com/agentmux/agentmux/internal/tui"
)

func main() {
	workflow := flag.String("workflow", "full_stack_feature", "workflow template to run")
	input := flag.String("input", "", "task description handed to the workflow")
	watch := flag.Bool("watch", false, "render a live view of the run")
	dbPath := flag.String("db", filepath.Join(xdg.DataHome, "agentmux", "runs.db"), "run archive path, empty to disable archiving")
	stub := flag.Bool("stub", false, "replace all providers with deterministic stubs (dry run)")
	list := flag.Bool("list", false, "list configured workflows and exit")
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	reg := registry.FromConfig(cfg.Workflows)
	if *list {
		for _, name := range reg.Names() {
			fmt.Println(name)
		}
		return
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: agentmux -workflow <name> -input <task description>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Signal-aware context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := llm.NewProcessManager()

	clients, err := buildClients(cfg.Providers, pm, *stub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeClients(clients)

	table, err := buildTable(cfg, clients)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	gates, err := buildGates(cfg, clients)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var store persistence.Store
	if *dbPath != "" {
		s, err := persistence.NewSQLiteStore(ctx, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening run archive: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		store = s
	}

	eng := engine.New(engine.Options{
		Config:   cfg.Engine,
		Registry: reg,
		Invoker:  invoker.New(table, cfg.Engine.InvokeTimeout()),
		Gates:    gates,
		Store:    store,
	})

	runID, err := eng.Submit(*workflow, *input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sub, err := eng.Subscribe(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := eng.Start(context.Background(), runID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// First signal aborts the run and kills provider subprocesses; after
	// stop() a second signal force-exits via default handling.
	go func() {
		<-ctx.Done()
		stop()
		log.Println("Shutdown signal received, aborting run...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.Shutdown(shutdownCtx, engine.AbandonInFlight); err != nil {
			log.Printf("WARNING: shutdown did not finish cleanly: %v", err)
		}
		if err := pm.KillAll(); err != nil {
			log.Printf("WARNING: failed to kill subprocesses: %v", err)
		}
	}()

	if *watch {
		if err := tui.Run(*workflow, runID, sub); err != nil {
			log.Printf("WARNING: watch view failed: %v", err)
		}
	} else {
		printEvents(sub)
	}

	run, _ := eng.Get(runID)
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	status, err := run.Wait(waitCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error waiting for run: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("run %s: %s\n", runID, status)
	if status != engine.RunSucceeded {
		os.Exit(1)
	}
}

// buildClients creates one provider client per configured provider. With stub
// enabled every provider is replaced by a deterministic dry-run client.
func buildClients(providers map[string]config.ProviderConfig, pm *llm.ProcessManager, stub bool) (map[string]llm.Client, error) {
	clients := make(map[string]llm.Client, len(providers))
	for name, p := range providers {
		if stub {
			clients[name] = dryRunClient()
			continue
		}
		client, err := llm.New(llm.ProviderConfig{Type: p.Type, Command: p.Command, Model: p.Model}, pm)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		clients[name] = client
	}
	return clients, nil
}

// dryRunClient answers every prompt with one JSON object that satisfies both
// the capability result contract (summary, artifacts) and the gate grading
// contract (score, notes), so dry runs pass their gates.
func dryRunClient() llm.Client {
	return llm.NewStubClient(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{
			Text: `{"summary": "dry run", "artifacts": {"dry_run.out": "ok"}, "score": 1.0, "notes": []}`,
		}, nil
	})
}

func buildTable(cfg *config.Config, clients map[string]llm.Client) (*invoker.Table, error) {
	table := invoker.NewTable()
	for name, cc := range cfg.Capabilities {
		client, ok := clients[cc.Provider]
		if !ok {
			return nil, fmt.Errorf("capability %q references unknown provider %q", name, cc.Provider)
		}
		err := table.Register(invoker.Capability{
			Name:         name,
			SystemPrompt: cc.SystemPrompt,
			Model:        cc.Model,
			Format:       invoker.OutputFormat(cc.Format),
			Client:       client,
		})
		if err != nil {
			return nil, err
		}
	}
	return table, nil
}

func buildGates(cfg *config.Config, clients map[string]llm.Client) (*gate.Registry, error) {
	gates := gate.NewRegistry()
	for name, gc := range cfg.Gates {
		var eval gate.Evaluator
		switch gc.Evaluator {
		case "artifact":
			eval = gate.ArtifactEvaluator{}
		case "llm":
			client, ok := clients[gc.Provider]
			if !ok {
				return nil, fmt.Errorf("gate %q references unknown provider %q", name, gc.Provider)
			}
			eval = &gate.LLMEvaluator{Client: client, Model: gc.Model, Instructions: gc.Instructions}
		default:
			return nil, fmt.Errorf("gate %q has unknown evaluator %q", name, gc.Evaluator)
		}

		err := gates.Register(&gate.Gate{
			Rubric: gate.Rubric{
				Name:       name,
				Threshold:  gc.Threshold,
				MaxRetries: gc.MaxRetries,
				Timeout:    time.Duration(gc.TimeoutSeconds) * time.Second,
			},
			Evaluator: eval,
		})
		if err != nil {
			return nil, err
		}
	}
	return gates, nil
}

func closeClients(clients map[string]llm.Client) {
	for name, client := range clients {
		if err := client.Close(); err != nil {
			log.Printf("WARNING: failed to close provider %q: %v", name, err)
		}
	}
}

// printEvents renders the run's event feed as log lines until the stream
// closes on the terminal event.
func printEvents(sub *stream.Subscription) {
	for ev := range sub.Events() {
		line := fmt.Sprintf("[%s] %-18s %s", ev.Timestamp.Format("15:04:05"), ev.Kind, ev.TaskID)
		if ev.Kind == stream.KindGateEvaluated {
			verdict := "reject"
			if ev.Pass {
				verdict = "accept"
			}
			line += fmt.Sprintf("  %s %s %.2f", ev.Gate, verdict, ev.Score)
		} else if ev.Message != "" {
			line += "  " + ev.Message
		}
		for _, note := range ev.Notes {
			line += "\n    - " + note
		}
		fmt.Println(line)
	}
}
