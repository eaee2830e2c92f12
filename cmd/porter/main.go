// ABOUTME: CLI entrypoint: one-shot goal execution, interactive sessions, and
// ABOUTME: the HTTP server mode, all assembled from one YAML configuration.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/porterhq/porter/agent"
	"github.com/porterhq/porter/config"
	"github.com/porterhq/porter/transcript"
	"github.com/porterhq/porter/web"
)

var version = "0.3.0"

type cliConfig struct {
	configPath   string
	serverMode   bool
	addr         string
	interactive  bool
	shellMode    bool
	maxSteps     int
	autoContinue bool
	showVersion  bool
	goal         string
}

func main() {
	loadDotEnv(".env")

	cli, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if cli.showVersion {
		fmt.Printf("porter %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cli))
}

func parseFlags(args []string) (*cliConfig, error) {
	cli := &cliConfig{}
	fs := flag.NewFlagSet("porter", flag.ContinueOnError)
	fs.StringVar(&cli.configPath, "config", "", "path to the YAML configuration file")
	fs.BoolVar(&cli.serverMode, "server", false, "run the HTTP server")
	fs.StringVar(&cli.addr, "addr", "", "listen address override for -server")
	fs.BoolVar(&cli.interactive, "i", false, "interactive session on the terminal")
	fs.BoolVar(&cli.shellMode, "shell", false, "translate the goal into one shell command and run it")
	fs.IntVar(&cli.maxSteps, "max-steps", 0, "step budget override")
	fs.BoolVar(&cli.autoContinue, "auto", false, "continue between steps without prompting")
	fs.BoolVar(&cli.showVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: porter [flags] \"goal\"\n\n")
		fmt.Fprintf(fs.Output(), "Runs a goal through the tool loop, or serves the HTTP API with -server.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cli.goal = strings.TrimSpace(strings.Join(fs.Args(), " "))
	return cli, nil
}

func run(cli *cliConfig) int {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := loadConfig(cli.configPath)
	if err != nil {
		logger.Printf("component=cli action=config_failed err=%v", err)
		return 1
	}
	if cli.addr != "" {
		cfg.Server.Addr = cli.addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Printf("component=cli action=init_failed err=%v", err)
		return 1
	}
	defer a.Close()

	switch {
	case cli.serverMode:
		return runServer(a, logger)
	case cli.interactive:
		return runInteractive(ctx, a, cli)
	case cli.shellMode:
		if cli.goal == "" {
			fmt.Fprintln(os.Stderr, `usage: porter -shell "what you want done"`)
			return 2
		}
		return runShell(ctx, a, cli.goal)
	default:
		if cli.goal == "" {
			fmt.Fprintln(os.Stderr, `usage: porter [flags] "goal"`)
			return 2
		}
		return runOnce(ctx, a, cli, cli.goal)
	}
}

// loadConfig prefers an explicit -config path, then porter.yaml in the working
// directory, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("porter.yaml"); err == nil {
		return config.Load("porter.yaml")
	}
	return config.Default(), nil
}

func runServer(a *app, logger *log.Logger) int {
	srv := web.NewServer(web.ServerConfig{
		Addr:            a.cfg.Server.Addr,
		DefaultMaxSteps: a.cfg.Context.MaxRounds,
		Emitter:         a.emitter,
	}, a.rt, a.newLoop(nil), a.planner, a.sessions, logger)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("component=cli action=serve_failed err=%v", err)
		return 1
	}
	return 0
}

func runOnce(ctx context.Context, a *app, cli *cliConfig, goal string) int {
	inter := &agent.AutoInteractor{
		AllowDangerous: a.cfg.Security.AutoContinueDangerous,
		OnChunk:        func(text string) { fmt.Print(text) },
	}
	loop := a.newLoop(inter)

	session := a.sessions.GetOrCreate("")
	session.SetGoal(goal)

	outcome := loop.Run(ctx, session, agent.RunOptions{
		MaxSteps:     stepBudget(cli, a.cfg),
		AutoContinue: true,
	})
	fmt.Println()

	if outcome.Status == agent.StatusError {
		fmt.Fprintf(os.Stderr, "run ended with an error: %s\n", outcome.FinalSummary)
		return 1
	}
	return 0
}

// runShell translates the goal into one shell command, confirms it when
// shell_confirm is set, and executes it through the router.
func runShell(ctx context.Context, a *app, goal string) int {
	command, err := a.planner.ShellCommand(ctx, goal, runtime.GOOS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "translating command: %v\n", err)
		return 1
	}
	fmt.Printf("$ %s\n", command)

	// Surface the capability match before running; a miss is a warning, not a
	// refusal, since execute_shell resolves through the catalog anyway.
	required := a.planner.AnalyzeCapabilities(ctx, command)
	if _, err := a.rt.Route(required); err != nil {
		fmt.Fprintf(os.Stderr, "warning: no provider covers %v\n", required)
	}

	if a.cfg.Security.ShellConfirm {
		inter := newConsoleInteractor(os.Stdin, os.Stdout)
		ok, err := inter.confirm("run it? [y/N] ")
		if err != nil {
			return 1
		}
		if !ok {
			fmt.Println("declined")
			return 0
		}
	}

	env, err := a.rt.Call(ctx, "execute_shell", map[string]any{"command": command})
	if err != nil {
		fmt.Fprintf(os.Stderr, "executing: %v\n", err)
		return 1
	}
	out, _ := json.MarshalIndent(env, "", "  ")
	fmt.Println(string(out))
	if env.Status == transcript.StatusError {
		return 1
	}
	return 0
}

func runInteractive(ctx context.Context, a *app, cli *cliConfig) int {
	inter := newConsoleInteractor(os.Stdin, os.Stdout)
	loop := a.newLoop(inter)
	session := a.sessions.GetOrCreate("console")

	fmt.Printf("porter %s - type a goal, or exit to quit\n", version)
	for {
		if ctx.Err() != nil {
			return 0
		}
		fmt.Print("porter> ")
		line, err := inter.readLine()
		if err != nil {
			fmt.Println()
			return 0
		}
		switch line {
		case "":
			continue
		case "exit", "quit":
			return 0
		}

		session.SetGoal(line)
		outcome := loop.Run(ctx, session, agent.RunOptions{
			MaxSteps:     stepBudget(cli, a.cfg),
			AutoContinue: cli.autoContinue,
		})
		fmt.Printf("\n[%s] %d steps recorded\n", outcome.Status, len(outcome.Results))
	}
}

func stepBudget(cli *cliConfig, cfg *config.Config) int {
	if cli.maxSteps > 0 {
		return cli.maxSteps
	}
	return cfg.Context.MaxRounds
}
