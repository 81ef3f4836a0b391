package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/matching"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/database/postgres"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
)

// newMatchDryrunCmd runs the match decision for one filename against the
// live registry without creating anything.  Admins use it to understand why
// a file was routed to review.
func newMatchDryrunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match-dryrun <filename>",
		Short: "Show the match decision a filename would get, without side effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, perr := identity.Parse(args[0])
			if perr != nil {
				return perr
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewNop()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			db, err := postgres.NewConnection(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			patients := repositories.NewPatientRepository(db.Pool(), logger)
			matcher := matching.NewMatcher(patients, matching.Config{
				Weights: matching.Weights{
					Levenshtein: cfg.Matching.LevenshteinWeight,
					TokenSort:   cfg.Matching.TokenSortWeight,
					TokenSet:    cfg.Matching.TokenSetWeight,
				},
				RecordNumberBonus:   cfg.Matching.RecordNumberBonus,
				AutoAssignThreshold: cfg.Matching.AutoAssignThreshold,
				ReviewThreshold:     cfg.Matching.ReviewThreshold,
				TieBandWidth:        cfg.Matching.TieBandWidth,
				MaxCandidates:       cfg.Matching.MaxCandidates,
			})

			decision, err := matcher.FindMatches(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"identity": id,
				"decision": decision,
			})
		},
	}
}
