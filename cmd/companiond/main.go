package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	cron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Seren-Labs/companion-memory/src/config"
	"github.com/Seren-Labs/companion-memory/src/memory/embed"
	"github.com/Seren-Labs/companion-memory/src/memory/engine"
	"github.com/Seren-Labs/companion-memory/src/memory/extract"
	"github.com/Seren-Labs/companion-memory/src/memory/model"
	"github.com/Seren-Labs/companion-memory/src/memory/store"
	"github.com/Seren-Labs/companion-memory/src/models"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "companiond",
		Short: "Memory and relationship service for companion characters",
	}
	root.AddCommand(chatCmd(), maintainCmd(), contextCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

// buildStore wires the persistence façade: remote primary when configured,
// disk fallback always.
func buildStore(ctx context.Context, cfg config.Config, registry *model.CharacterRegistry) (store.Store, error) {
	local, err := store.NewLocalStore(filepath.Join(cfg.DataDir, "memory"), registry)
	if err != nil {
		return nil, err
	}

	var primary store.Store
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, registry)
		if err != nil {
			log.Warn("postgres unavailable, running on local store", "err", err)
			break
		}
		if err := pg.CreateSchema(ctx, ""); err != nil {
			log.Warn("schema bootstrap failed", "err", err)
		}
		primary = pg
	case cfg.MongoURI != "":
		mg, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, registry)
		if err != nil {
			log.Warn("mongodb unavailable, running on local store", "err", err)
			break
		}
		primary = mg
	}

	if primary == nil {
		return local, nil
	}
	return store.NewFallbackStore(primary, local, log.Default()), nil
}

// buildModel resolves the completion provider from config, falling back to
// env-based auto-detection when none is named.
func buildModel(ctx context.Context, cfg config.Config) models.Model {
	if cfg.LLMProvider == "" {
		return models.Auto(ctx)
	}
	m, err := models.NewProvider(ctx, cfg.LLMProvider, cfg.LLMModel)
	if err != nil {
		log.Warn("llm provider unavailable, using auto-detection", "provider", cfg.LLMProvider, "err", err)
		return models.Auto(ctx)
	}
	if cfg.CacheFile != "" {
		return models.NewCachedModel(m, cfg.CacheSize, cfg.CacheTTL, cfg.CacheFile)
	}
	return m
}

func buildEmbedder(ctx context.Context, cfg config.Config) embed.Embedder {
	if cfg.EmbedProvider == "" {
		return embed.Auto()
	}
	e, err := embed.ForProvider(ctx, cfg.EmbedProvider, cfg.EmbedModel)
	if err != nil {
		log.Warn("embedding provider unavailable, using dummy embeddings", "provider", cfg.EmbedProvider, "err", err)
		return embed.DummyEmbedder{Dim: cfg.EmbedDim}
	}
	return e
}

func buildEngine(ctx context.Context, cfg config.Config) (*engine.Engine, error) {
	registry := model.NewCharacterRegistry(cfg.Characters...)
	st, err := buildStore(ctx, cfg, registry)
	if err != nil {
		return nil, err
	}

	llm := buildModel(ctx, cfg)
	embedder := embed.NewCachedEmbedder(buildEmbedder(ctx, cfg), cfg.CacheSize, cfg.CacheTTL)

	eng := engine.NewEngine(st, engine.Options{SummaryInterval: cfg.SummaryInterval}).
		WithExtractor(extract.NewCombinedExtractor(nil, extract.NewLLMExtractor(llm), log.Default())).
		WithEmbedder(embedder).
		WithSummarizer(engine.NewSummarizer(llm))
	return eng, nil
}

func chatCmd() *cobra.Command {
	var userID, characterID, persona string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive loop that feeds each line through the memory pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.FromEnv()
			eng, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			key := model.Key{UserID: userID, CharacterID: characterID}

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Println("type a message, or /context to inspect the assembled prompt")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/context" {
					out, err := eng.Context(ctx, key, persona, "")
					if err != nil {
						return err
					}
					fmt.Println(out)
					continue
				}
				if err := eng.ProcessTurn(ctx, key, line, ""); err != nil {
					return err
				}
				out, err := eng.Context(ctx, key, persona, line)
				if err != nil {
					return err
				}
				fmt.Println("--- context for next completion ---")
				fmt.Println(out)
			}
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "user id")
	cmd.Flags().StringVar(&characterID, "character", model.DefaultCharacters[0], "character id")
	cmd.Flags().StringVar(&persona, "persona", "", "persona text prepended to the context")
	return cmd
}

func maintainCmd() *cobra.Command {
	var schedule bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run confidence decay and episodic pruning, once or on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.FromEnv()
			eng, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}

			run := func() {
				report, err := eng.RunMaintenance(ctx)
				if err != nil {
					log.Error("maintenance failed", "err", err)
					return
				}
				log.Info("maintenance complete",
					"facts_decayed", report.FactsDecayed,
					"episodes_pruned", report.EpisodesPruned)
			}

			if !schedule {
				run()
				return nil
			}

			c := cron.New()
			if _, err := c.AddFunc(cfg.MaintenanceSchedule, run); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", cfg.MaintenanceSchedule, err)
			}
			c.Start()
			log.Info("maintenance scheduler running", "schedule", cfg.MaintenanceSchedule)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&schedule, "schedule", false, "keep running on the configured cron schedule")
	return cmd
}

func contextCmd() *cobra.Command {
	var userID, characterID, persona, query string
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the assembled context block for a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.FromEnv()
			eng, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			out, err := eng.Context(ctx, model.Key{UserID: userID, CharacterID: characterID}, persona, query)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "user id")
	cmd.Flags().StringVar(&characterID, "character", model.DefaultCharacters[0], "character id")
	cmd.Flags().StringVar(&persona, "persona", "", "persona text")
	cmd.Flags().StringVar(&query, "query", "", "query text for episodic retrieval")
	return cmd
}
