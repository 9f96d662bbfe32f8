package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/provider"
	"gorm.io/gorm"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kb"},
		Short:   "Knowledge base commands",
	}

	cmd.AddCommand(newKnowledgeIngestCmd())
	cmd.AddCommand(newKnowledgeListCmd())
	cmd.AddCommand(newKnowledgeDeleteCmd())
	return cmd
}

// knowledgeService builds the service with the configured embedder. The
// CLI has no live subscribers, so events go to a nil hub.
func knowledgeService(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, logger *slog.Logger) (*knowledge.Service, error) {
	providers, err := provider.New(ctx, cfg.Provider, logger)
	if err != nil {
		return nil, err
	}
	return knowledge.NewService(knowledge.Options{
		DB:       gormDB,
		Embedder: providers.Embedder,
		Config:   cfg.Knowledge,
		MinChunk: cfg.RAG.MinChunkSize,
		MaxChunk: cfg.RAG.MaxChunkSize,
		Logger:   logger,
	})
}

func newKnowledgeIngestCmd() *cobra.Command {
	var (
		configPath string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload files into the knowledge base",
		Long:  "Stores, chunks and embeds each file. Supported types: .txt .md .html .htm .docx.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			actor, err := resolveActor(gormDB, as)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := knowledgeService(ctx, cfg, gormDB, newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				file, err := svc.Upload(ctx, actor, filepath.Base(path), "", data)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Fprintf(out, "Ingested %s as file %d (%d chunks)\n", file.FilenameOriginal, file.ID, file.TotalChunks)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&as, "as", "", "id of the operator recorded in the audit log")
	return cmd
}

func newKnowledgeListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := knowledgeService(cmd.Context(), cfg, gormDB, newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			files, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No knowledge files.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILENAME\tSIZE\tCHUNKS\tUPLOADED")
			for _, f := range files {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", f.ID, f.FilenameOriginal, f.SizeBytes, f.TotalChunks, f.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newKnowledgeDeleteCmd() *cobra.Command {
	var (
		configPath string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a knowledge file and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			actor, err := resolveActor(gormDB, as)
			if err != nil {
				return err
			}
			svc, err := knowledgeService(cmd.Context(), cfg, gormDB, newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), actor, uint(id)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted file %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&as, "as", "", "id of the operator recorded in the audit log")
	return cmd
}
