package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/api"
	"github.com/zulandar/switchboard/internal/channel"
	discordadapter "github.com/zulandar/switchboard/internal/channel/discord"
	slackadapter "github.com/zulandar/switchboard/internal/channel/slack"
	telegramadapter "github.com/zulandar/switchboard/internal/channel/telegram"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/inbound"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/provider"
	"github.com/zulandar/switchboard/internal/rag"
	"github.com/zulandar/switchboard/internal/responder"
	"github.com/zulandar/switchboard/internal/stats"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the chat channel",
		Long: "Migrates the database, starts the operator HTTP API with its event streams,\n" +
			"and connects the configured chat platform to the AI responder.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, cmd.OutOrStdout())
	slog.SetDefault(logger)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, gormDB, logger)
	if err != nil {
		return err
	}
	return app.run(ctx)
}

// app is the wired set of long-running components.
type app struct {
	server  *api.Server
	addr    string
	daemon  *channel.Daemon
	runners []channel.Runner
	logger  *slog.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, logger *slog.Logger) (*app, error) {
	h := hub.New(logger)

	providers, err := provider.New(ctx, cfg.Provider, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("serve: provider ready", "provider", providers.Name)

	retriever := rag.NewRetriever(providers.Embedder, rag.Options{
		Limit:        cfg.RAG.TopK,
		MinRelevance: *cfg.RAG.MinRelevance,
	}, logger)
	ai, err := responder.New(responder.Options{
		Completer:    providers.Completer,
		Ranker:       retriever,
		MinRelevance: *cfg.RAG.MinRelevance,
		TopK:         cfg.RAG.TopK,
		HistoryLimit: cfg.RAG.HistoryMessageLimit,
		Timeout:      cfg.Provider.Timeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	adapter, webhook, err := createAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	var outbound dialog.Outbound
	if adapter != nil {
		outbound = channel.NewDeliverer(adapter, cfg.Channel.SendTimeout)
	}

	engine, err := dialog.NewEngine(dialog.Options{
		DB:          gormDB,
		Hub:         h,
		Outbound:    outbound,
		LockTimeout: cfg.Dialogs.LockTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	kb, err := knowledge.NewService(knowledge.Options{
		DB:       gormDB,
		Embedder: providers.Embedder,
		Hub:      h,
		Config:   cfg.Knowledge,
		MinChunk: cfg.RAG.MinChunkSize,
		MaxChunk: cfg.RAG.MaxChunkSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	server, err := api.New(api.Options{
		DB:        gormDB,
		Engine:    engine,
		Knowledge: kb,
		Hub:       h,
		Webhook:   webhook,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{server: server, addr: cfg.Server.Addr(), logger: logger}

	if cfg.Stats.Enabled {
		sched, err := stats.NewScheduler(stats.SchedulerOpts{
			DB:       gormDB,
			Hub:      h,
			Schedule: cfg.Stats.Cron,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		a.runners = append(a.runners, sched)
	}

	if adapter != nil {
		handler, err := inbound.NewHandler(inbound.Options{
			DB:             gormDB,
			Engine:         engine,
			Responder:      ai,
			Hub:            h,
			Outbound:       outbound,
			Keywords:       cfg.Dialogs.OperatorKeywords,
			HighConfidence: *cfg.RAG.OperatorHighConfidence,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		a.daemon, err = channel.NewDaemon(channel.DaemonOpts{
			Adapter: adapter,
			Handler: handler,
			Runners: a.runners,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// run blocks until ctx is cancelled or a component fails. The daemon owns
// the runners when a channel is configured.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- a.server.Serve(ctx, a.addr) }()

	waiting := 1
	if a.daemon != nil {
		waiting++
		go func() { errCh <- a.daemon.Run(ctx) }()
	} else {
		a.logger.Info("serve: no chat channel configured")
		for _, r := range a.runners {
			go r.Run(ctx)
		}
	}

	var first error
	for i := 0; i < waiting; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
		// One component stopping takes the rest down.
		cancel()
	}
	return first
}

// createAdapter builds the chat adapter for cfg.Channel. It returns a nil
// adapter for platform "none", and a webhook handler when Telegram runs in
// webhook mode.
func createAdapter(cfg *config.Config, logger *slog.Logger) (channel.Adapter, http.Handler, error) {
	ch := cfg.Channel
	switch ch.Platform {
	case channel.PlatformTelegram:
		a, err := telegramadapter.New(telegramadapter.AdapterOpts{
			Token:         ch.Telegram.Token,
			WebhookURL:    ch.Telegram.WebhookURL,
			WebhookSecret: ch.Telegram.WebhookSecret,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if ch.Telegram.WebhookURL != "" {
			return a, a.WebhookHandler(), nil
		}
		return a, nil, nil
	case channel.PlatformSlack:
		a, err := slackadapter.New(slackadapter.AdapterOpts{
			AppToken: ch.Slack.AppToken,
			BotToken: ch.Slack.BotToken,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, nil, nil
	case channel.PlatformDiscord:
		a, err := discordadapter.New(discordadapter.AdapterOpts{
			BotToken: ch.Discord.BotToken,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, nil, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("serve: unsupported platform %q", ch.Platform)
	}
}
