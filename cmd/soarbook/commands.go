package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"soarbook/config"
	"soarbook/internal/engine"
	inputredis "soarbook/internal/input/redis"
	"soarbook/internal/logger"
	"soarbook/internal/output/summarysqlite"
	"soarbook/internal/playbook"
	"soarbook/internal/prompt"
	"soarbook/internal/transform/container"
	"soarbook/pkg/models"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// loadOptionalConfig is loadConfig for one-shot commands: a missing file
// yields defaults instead of failing.
func loadOptionalConfig(configArg string) *config.Config {
	path := findConfigFile(configArg)
	if _, err := os.Stat(path); err != nil {
		cfg := &config.Config{}
		applyDefaults(cfg)
		_ = logger.Init(false, "", "", false)
		return cfg
	}
	cfg, _ := loadConfig(path)
	return cfg
}

func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	containerPath := fs.String("container", "", "Container JSON file")
	playbookPath := fs.String("playbook", "", "Playbook file (overrides config)")
	prompts := fs.String("prompts", "console", "Prompt mode: console or config")
	output := fs.String("output", "", "Append the summary to this JSONL file instead of printing it")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*containerPath) == "" {
		fmt.Fprintln(os.Stderr, "-container is required")
		return 2
	}

	cfg := loadOptionalConfig(*configArg)
	sb := cfg.Soarbook
	if *playbookPath != "" {
		sb.Playbook.Path = *playbookPath
	}

	raw, err := os.ReadFile(*containerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read container: %v\n", err)
		return 1
	}
	c, err := container.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse container: %v\n", err)
		return 1
	}

	pb, err := playbook.Load(sb.Playbook.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load playbook: %v\n", err)
		return 1
	}
	registry, err := buildRegistry(sb.Assets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build asset registry: %v\n", err)
		return 1
	}
	defer registry.Close()

	var prompter prompt.Prompter
	switch *prompts {
	case "console":
		prompter = prompt.NewConsole(os.Stdin, os.Stderr)
	case "config":
		p, closePrompter, err := buildPrompter(sb.Prompts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create prompter: %v\n", err)
			return 1
		}
		defer closePrompter()
		prompter = p
	default:
		fmt.Fprintf(os.Stderr, "unknown prompt mode %q\n", *prompts)
		return 2
	}

	driver, err := engine.New(pb,
		engine.WithInvoker(registry),
		engine.WithPrompter(prompter),
		engine.WithActionConcurrency(sb.Playbook.ActionConcurrency),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create driver: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := driver.Run(ctx, c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return 1
	}

	if *output != "" {
		if err := appendJSONLines(*output, []*models.Summary{summary}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
			return 1
		}
		fmt.Printf("run=%s succeeded=%d failed=%d skipped=%d output=%s\n",
			summary.RunID, summary.Counts.Succeeded, summary.Counts.Failed, summary.Counts.Skipped, *output)
		return 0
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode summary: %v\n", err)
		return 1
	}
	return 0
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	playbookPath := fs.String("playbook", "playbooks/recon.yml", "Playbook file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pb, err := playbook.Load(*playbookPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid playbook %s:\n%v\n", *playbookPath, err)
		return 1
	}

	counts := map[playbook.NodeType]int{}
	for _, n := range pb.Nodes() {
		counts[n.Type]++
	}
	fmt.Printf("playbook=%s nodes=%d actions=%d filters=%d prompts=%d joins=%d entries=%s\n",
		pb.Name,
		len(pb.Nodes()),
		counts[playbook.TypeAction],
		counts[playbook.TypeFilter],
		counts[playbook.TypePrompt],
		counts[playbook.TypeJoin],
		strings.Join(pb.Entries(), ","),
	)
	return 0
}

func runDot(args []string) int {
	fs := flag.NewFlagSet("dot", flag.ContinueOnError)
	playbookPath := fs.String("playbook", "playbooks/recon.yml", "Playbook file")
	output := fs.String("output", "", "Output path (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pb, err := playbook.Load(*playbookPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load playbook: %v\n", err)
		return 1
	}
	dot, err := pb.ToDOT()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render playbook: %v\n", err)
		return 1
	}
	if *output == "" {
		fmt.Print(dot)
		return 0
	}
	if dir := filepath.Dir(*output); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
			return 1
		}
	}
	if err := os.WriteFile(*output, []byte(dot), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *output, err)
		return 1
	}
	fmt.Printf("wrote %s\n", *output)
	return 0
}

func runEnqueue(args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: soarbook enqueue [-config file] container.json...")
		return 2
	}

	cfg := loadOptionalConfig(*configArg)
	in := cfg.Soarbook.Input.Redis
	q, err := inputredis.NewQueue(inputredis.Config{
		Addr:     in.Addr,
		Password: in.Password,
		DB:       in.DB,
		Key:      in.Key,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create queue: %v\n", err)
		return 1
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, path := range fs.Args() {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", path, err)
			return 1
		}
		c, err := container.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", path, err)
			return 1
		}
		if err := q.Push(ctx, raw); err != nil {
			fmt.Fprintf(os.Stderr, "failed to enqueue %s: %v\n", path, err)
			return 1
		}
		fmt.Printf("queued container=%s artifacts=%d\n", c.ID, len(c.Artifacts))
	}
	return 0
}

func runPrompts(args []string) int {
	fs := flag.NewFlagSet("prompts", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := loadOptionalConfig(*configArg)
	b, err := newBroker(cfg.Soarbook.Prompts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect prompt broker: %v\n", err)
		return 1
	}
	defer b.Close()

	pending, err := b.Pending(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list prompts: %v\n", err)
		return 1
	}
	if len(pending) == 0 {
		fmt.Println("no pending prompts")
		return 0
	}
	for _, req := range pending {
		fmt.Printf("%s  node=%s container=%s user=%s due=%s\n", req.ID, req.Node, req.ContainerID, req.User, req.Deadline.Format(time.RFC3339))
		for _, line := range strings.Split(req.Message, "\n") {
			fmt.Printf("    %s\n", line)
		}
		for i, q := range req.Questions {
			if q.Type == models.ResponseList {
				fmt.Printf("    answer %d: one of %s\n", i+1, strings.Join(q.Choices, "/"))
			} else {
				fmt.Printf("    answer %d: free text\n", i+1)
			}
		}
	}
	return 0
}

func runRespond(args []string) int {
	fs := flag.NewFlagSet("respond", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	id := fs.String("id", "", "Prompt request ID")
	user := fs.String("user", os.Getenv("USER"), "Responder name")
	var answers stringList
	fs.Var(&answers, "answer", "Answer (repeat once per question)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*id) == "" || len(answers) == 0 {
		fmt.Fprintln(os.Stderr, "-id and at least one -answer are required")
		return 2
	}

	cfg := loadOptionalConfig(*configArg)
	b, err := newBroker(cfg.Soarbook.Prompts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect prompt broker: %v\n", err)
		return 1
	}
	defer b.Close()

	err = b.Respond(context.Background(), &models.PromptResponse{
		RequestID: *id,
		Responder: *user,
		Answers:   answers,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to respond: %v\n", err)
		return 1
	}
	fmt.Printf("answered %s\n", *id)
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	since := fs.Duration("since", time.Hour, "Show runs completed within this window")
	source := fs.String("source", "runstate", "Where to read runs: runstate or sqlite")
	output := fs.String("output", "", "Optional JSONL output path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := loadOptionalConfig(*configArg)
	from := time.Now().Add(-*since)
	ctx := context.Background()

	var rows []interface{}
	switch *source {
	case "runstate":
		s, err := newRunState(cfg.Soarbook.Output.RunState)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect run-state: %v\n", err)
			return 1
		}
		defer s.Close()
		states, err := s.FetchRecent(ctx, from, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read runs: %v\n", err)
			return 1
		}
		for _, st := range states {
			fmt.Printf("%s  %s  container=%s playbook=%s ok=%d failed=%d skipped=%d %s\n",
				st.CompletedAt.Format(time.RFC3339), st.RunID, st.ContainerID, st.Playbook,
				st.Succeeded, st.Failed, st.Skipped, strings.Join(st.FailedNodes, ","))
			rows = append(rows, st)
		}
	case "sqlite":
		s, err := summarysqlite.New(cfg.Soarbook.Output.SQLite.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open sqlite store: %v\n", err)
			return 1
		}
		defer s.Close()
		runs, err := s.ListSince(ctx, from, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read runs: %v\n", err)
			return 1
		}
		for _, sum := range runs {
			fmt.Printf("%s  %s  container=%s playbook=%s ok=%d failed=%d skipped=%d\n",
				sum.CompletedAt.Format(time.RFC3339), sum.RunID, sum.ContainerID, sum.Playbook,
				sum.Counts.Succeeded, sum.Counts.Failed, sum.Counts.Skipped)
			rows = append(rows, sum)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown source %q\n", *source)
		return 2
	}

	if *output != "" {
		if err := appendJSONLines(*output, rows); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			return 1
		}
	}
	fmt.Printf("runs=%d since=%s\n", len(rows), from.Format(time.RFC3339))
	return 0
}

func appendJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
