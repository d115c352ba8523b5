package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/carecontext/internal/api/handlers"
	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/service"
)

const (
	modePatient  = "patient"
	modeClinical = "clinical"
)

func ContextCmd() *cobra.Command {
	var (
		mode   string
		k      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "context <owner-id> <question>",
		Short: "Retrieve merged knowledge and patient context for a question",
		Args:  cobra.MinimumNArgs(2),
		Example: `  carecontextd context p-102 "why are my hands stiff in the morning?"
  carecontextd context p-102 "treatment history for joint pain" --mode clinical --k 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := args[0]
			question := strings.Join(args[1:], " ")
			if mode != modePatient && mode != modeClinical {
				return fmt.Errorf("--mode must be %q or %q", modePatient, modeClinical)
			}
			if k != 0 && mode != modeClinical {
				return errors.New("--k is only valid with --mode clinical")
			}

			return withApp(cmd, func(ctx context.Context, app *App) error {
				var (
					mc  *domain.MergedContext
					err error
				)
				if mode == modeClinical {
					mc, err = app.Retrieval.RetrieveForClinicalQuery(ctx, owner, question, k)
				} else {
					mc, err = app.Retrieval.RetrieveForPatientQuery(ctx, owner, question)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(handlers.NewContextResponse(mc))
				}
				fmt.Fprintln(out, service.FormatContext(mc))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", modePatient, "retrieval mode: patient or clinical")
	cmd.Flags().IntVar(&k, "k", 0, "per-source result count for clinical mode (0 uses the default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the context and its sources as JSON")
	return cmd
}
