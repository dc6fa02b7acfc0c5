package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/lucy/feishu"
)

func serveCmd(configPath *string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Feishu webhook server",
		Long: `Starts the HTTP server that receives Feishu message events, routes
them through the orchestrator, and replies in the chat. Requires
feishu.enabled with app credentials in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.close()

			cfg := app.cfg
			if !cfg.Feishu.Enabled {
				return fmt.Errorf("feishu channel is disabled; set feishu.enabled in the config")
			}

			processorOpts := []feishu.ProcessorOption{
				feishu.WithProcessedStore(feishu.NewProcessedStore(cfg.Feishu.ProcessedPath)),
			}
			if cfg.Feishu.SendReply {
				messenger := feishu.NewMessenger(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
				processorOpts = append(processorOpts, feishu.WithMessenger(messenger))
			}

			processor := feishu.NewProcessor(app.orchestrator, feishu.Settings{
				RepoName:              cfg.Repo.Name,
				BaseBranch:            cfg.Repo.BaseBranch,
				AutoClarify:           cfg.Orchestrator.AutoClarify,
				AutoRunOnApprove:      cfg.Orchestrator.AutoRunOnApprove,
				AutoProvisionWorktree: cfg.Orchestrator.AutoProvisionWorktree,
				SendReply:             cfg.Feishu.SendReply,
				AllowFrom:             cfg.Feishu.AllowFrom,
				VerificationToken:     cfg.Feishu.VerificationToken,
			}, processorOpts...)

			addr := cfg.Feishu.ListenAddr
			if listenAddr != "" {
				addr = listenAddr
			}
			server := feishu.NewServer(processor, feishu.WithListenAddr(addr))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("Lucy ready", "version", Version, "repo", cfg.Repo.Name)
			return server.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides feishu.listen_addr)")
	return cmd
}
