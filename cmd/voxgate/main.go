// Command voxgate is the Voxgate speech gateway server: it bridges WebSocket
// clients to a bidirectional speech-to-speech model on Amazon Bedrock,
// dispatching tool calls the model makes along the way.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/gateway"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/modelstream"
	"github.com/MrWong99/voxgate/pkg/modelstream/bedrock"
	"github.com/MrWong99/voxgate/pkg/tool"
	"github.com/MrWong99/voxgate/pkg/tool/toolmcp"
	"github.com/MrWong99/voxgate/pkg/tools/datetimetool"
	"github.com/MrWong99/voxgate/pkg/tools/geocode"
	"github.com/MrWong99/voxgate/pkg/tools/kbsearch"
	"github.com/MrWong99/voxgate/pkg/tools/reasoner"
	"github.com/MrWong99/voxgate/pkg/tools/weather"
	"github.com/MrWong99/voxgate/pkg/tools/wiki"
)

// shutdownTimeout bounds the drain of live sessions after a termination
// signal. Exceeding it exits non-zero.
const shutdownTimeout = 15 * time.Second

// defaultKBModelArn composes knowledge-base answers when the config names a
// knowledge base but no generation model.
const defaultKBModelArn = "anthropic.claude-3-haiku-20240307-v1:0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables override)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg = config.Default()
		config.ApplyEnv(cfg)
		err = config.Validate(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	slog.Info("voxgate starting",
		"listen_addr", addr,
		"region", cfg.AWS.DefaultRegion,
		"model_id", cfg.AWS.ModelID,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxgate"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Tool catalogue ────────────────────────────────────────────────────────
	tools := tool.NewRegistry()
	registerBuiltinTools(ctx, tools, cfg)

	mcpBridge := toolmcp.NewBridge()
	defer func() {
		if err := mcpBridge.Close(); err != nil {
			slog.Warn("mcp bridge close error", "err", err)
		}
	}()
	for _, srv := range cfg.Tools.MCPServers {
		n, err := mcpBridge.Import(ctx, toolmcp.ServerConfig{
			Name:      srv.Name,
			Transport: toolmcp.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Token:     srv.Token,
			Env:       srv.Env,
		}, tools)
		if err != nil {
			slog.Error("failed to import MCP server", "server", srv.Name, "err", err)
			return 1
		}
		slog.Info("mcp server imported", "server", srv.Name, "tools", n)
	}
	slog.Info("tool catalogue ready", "tools", tools.Names())

	// ── Model service clients ─────────────────────────────────────────────────
	var bedrockOpts []bedrock.Option
	if cfg.AWS.AccessKeyID != "" {
		bedrockOpts = append(bedrockOpts, bedrock.WithStaticCredentials(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""))
	}
	models := modelstream.NewRegistry(func(ctx context.Context, region string) (modelstream.Client, error) {
		return bedrock.New(ctx, region, bedrockOpts...)
	})

	// ── Session manager ───────────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()
	manager := session.NewManager(tools, models,
		session.WithErrorClassifier(bedrock.ErrorKind),
		session.WithDispatchObserver(func(sessionID string, ev protocol.DownstreamEvent) {
			metrics.RecordDownstreamEvent(context.Background(), string(ev.Kind))
		}),
	)
	go manager.Run(ctx)

	// ── Gateway ───────────────────────────────────────────────────────────────
	var turnDetection string
	if cfg.Defaults.Endpointing != "" {
		turnDetection = string(cfg.Defaults.Endpointing)
	}
	gw := gateway.NewServer(manager, tools, gateway.Defaults{
		Region:  cfg.AWS.DefaultRegion,
		ModelID: cfg.AWS.ModelID,
		Inference: protocol.InferenceConfig{
			MaxTokens:   cfg.Defaults.MaxTokens,
			TopP:        cfg.Defaults.TopP,
			Temperature: cfg.Defaults.Temperature,
		},
		Endpointing:      turnDetection,
		VoiceID:          cfg.Defaults.VoiceID,
		OutputSampleRate: cfg.Defaults.OutputSampleRate,
		InputSampleRate:  cfg.Defaults.InputSampleRate,
		SystemPrompt:     cfg.Defaults.SystemPrompt,
		EnabledTools:     cfg.Tools.Enabled,
	}, gateway.WithMetrics(metrics))

	// ── HTTP mux ──────────────────────────────────────────────────────────────
	healthz := health.New(health.Checker{
		Name: "model_service",
		Check: func(ctx context.Context) error {
			_, err := models.Client(ctx, cfg.AWS.DefaultRegion)
			return err
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("GET /api/tools", gw.ToolsHandler)
	mux.HandleFunc("GET /health", health.Status(func() health.StatusInfo {
		return health.StatusInfo{
			ActiveSessions:    gw.SessionCount(),
			SocketConnections: gw.ConnectionCount(),
			Regions:           models.Regions(),
		}
	}))
	healthz.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(metrics)(mux),
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, func(old, new *config.Config) {
			diff := config.Diff(old, new)
			if !diff.HasChanges() {
				return
			}
			if diff.LogLevelChanged {
				logLevel.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			if diff.ToolsChanged || diff.DefaultsChanged {
				slog.Info("session defaults changed; applies to new sessions only")
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	serveErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			serveErr <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr <- srv.ListenAndServe()
		}
	}()
	slog.Info("server ready", "addr", addr)

	select {
	case err := <-serveErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, draining sessions")
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	closeErr := manager.CloseAll(shCtx)
	if err := srv.Shutdown(shCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if closeErr != nil {
		slog.Error("session drain incomplete", "err", closeErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinTools wires the tools that ship with voxgate. The
// knowledge-base and reasoning tools only register when configured.
func registerBuiltinTools(ctx context.Context, reg *tool.Registry, cfg *config.Config) {
	reg.Register(weather.New())
	reg.Register(geocode.New())
	reg.Register(wiki.New())
	reg.Register(datetimetool.New())

	if cfg.AWS.KnowledgeBaseID != "" {
		modelArn := cfg.AWS.KBModelArn
		if modelArn == "" {
			modelArn = defaultKBModelArn
		}
		kb, err := kbsearch.New(ctx, cfg.AWS.DefaultRegion, cfg.AWS.KnowledgeBaseID, modelArn)
		if err != nil {
			slog.Warn("knowledge-base tool disabled", "err", err)
		} else {
			reg.Register(kb)
			slog.Info("knowledge-base tool enabled", "kb_id", cfg.AWS.KnowledgeBaseID)
		}
	}

	if cfg.Tools.ReasonerProvider != "" {
		r, err := reasoner.New(cfg.Tools.ReasonerProvider, cfg.Tools.ReasonerModel)
		if err != nil {
			slog.Warn("reasoning tool disabled", "err", err)
		} else {
			reg.Register(r)
			slog.Info("reasoning tool enabled", "provider", cfg.Tools.ReasonerProvider, "model", cfg.Tools.ReasonerModel)
		}
	}
}

// slogLevel maps the config log level onto slog's scale.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
