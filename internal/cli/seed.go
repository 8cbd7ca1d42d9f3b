package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"live-quiz-engine/internal/config"
	"live-quiz-engine/internal/domain"
	pgstore "live-quiz-engine/internal/infra/postgres"

	"github.com/spf13/cobra"
)

// NewSeedCmd loads session definitions from a JSON file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store session definitions from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			log := newLogger(cfg.Log.Level, cfg.Log.Format)

			defs := sampleDefinitions()
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				var parsed []domain.SessionDefinition
				if err := json.Unmarshal(raw, &parsed); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
				defs = parsed
			}

			db := openBun(cfg.Postgres.URL)
			defer db.Close()
			if err := migrateDB(cmd.Context(), db, log); err != nil {
				return err
			}
			store := pgstore.NewStore(nil, db)
			for _, def := range defs {
				if err := store.PutDefinition(cmd.Context(), def); err != nil {
					return fmt.Errorf("seed %s: %w", def.ID, err)
				}
				log.WithField("session", def.ID).Info("definition stored")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of session definitions (defaults to the built-in sample)")
	return cmd
}
