package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
)

// newParseCmd checks filenames against the institutional convention without
// touching any backend.  Useful for validating a batch before upload.
func newParseCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse <filename>...",
		Short: "Parse filenames against the institutional naming convention",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := identity.ParseBatch(args)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			failures := 0
			for _, name := range args {
				res := results[name]
				if res.Err != nil {
					failures++
					fmt.Printf("FAIL  %s\n      reason: %s\n      %s\n", name, res.Err.Reason, res.Err.Suggestion)
					continue
				}
				fmt.Printf("OK    %s\n      record=%s name=%q type=%s\n",
					name, res.Identity.ExternalRecordID, res.Identity.FullName, res.Identity.DocumentType)
			}
			fmt.Printf("\n%d parsed, %d failed\n", len(args)-failures, failures)
			if failures > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
