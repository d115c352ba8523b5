package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/carecontext/internal/config"
	"github.com/cloo-solutions/carecontext/internal/domain"
	"github.com/cloo-solutions/carecontext/internal/service"
)

// withApp loads config, builds the components, and runs fn against them.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, err := setupLogger(cmd.Context(), cfg.Debug)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest knowledge documents or patient entries",
	}
	cmd.AddCommand(ingestKnowledgeCmd(), ingestPatientCmd())
	return cmd
}

func ingestKnowledgeCmd() *cobra.Command {
	var text, file, label, docType, date string

	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Ingest a knowledge document (.pdf, .docx, .md, .txt) or inline text",
		Example: `  carecontextd ingest knowledge --file guides/ra-flares.pdf
  carecontextd ingest knowledge --file s3://clinical-docs/lupus.docx --label lupus-guide
  carecontextd ingest knowledge --text "Cold weather can trigger flares."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := knowledgeInput(text, file, label, docType, date)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *App) error {
				n, err := app.Ingestion.IngestKnowledge(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %d chunks\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "inline document text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "local path or s3:// URI of the document")
	cmd.Flags().StringVar(&label, "label", "", "source label shown in formatted context")
	cmd.Flags().StringVar(&docType, "doc-type", string(domain.DocTypeKnowledge), "document type")
	cmd.Flags().StringVar(&date, "date", "", "document date (YYYY-MM-DD, defaults to today)")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")
	return cmd
}

func knowledgeInput(text, file, label, docType, date string) (service.KnowledgeInput, error) {
	dt, err := domain.ParseDocType(docType)
	if err != nil {
		return service.KnowledgeInput{}, err
	}
	d, err := parseCLIDate(date)
	if err != nil {
		return service.KnowledgeInput{}, err
	}
	return service.KnowledgeInput{Text: text, Path: file, Label: label, DocType: dt, Date: d}, nil
}

func ingestPatientCmd() *cobra.Command {
	var (
		owner, text, docType, date string
		fields, meta               map[string]string
	)

	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Ingest one patient entry as free text or structured fields",
		Example: `  carecontextd ingest patient --owner p-102 --doc-type symptom_log --field pain=7 --field location=knees
  carecontextd ingest patient --owner p-102 --text "Missed methotrexate, felt nauseous" --meta source_label=diary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := patientEntry(owner, text, docType, date, fields, meta)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *App) error {
				n, err := app.Ingestion.IngestPatientEntry(ctx, entry)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %d chunks for %s\n", n, owner)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "patient owner ID")
	cmd.Flags().StringVar(&text, "text", "", "free-text entry")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "structured field key=value (repeatable)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "extra metadata key=value (repeatable)")
	cmd.Flags().StringVar(&docType, "doc-type", string(domain.DocTypeOther), "entry document type")
	cmd.Flags().StringVar(&date, "date", "", "entry date (YYYY-MM-DD, defaults to today)")
	_ = cmd.MarkFlagRequired("owner")
	cmd.MarkFlagsMutuallyExclusive("text", "field")
	cmd.MarkFlagsOneRequired("text", "field")
	return cmd
}

func patientEntry(owner, text, docType, date string, fields, meta map[string]string) (service.PatientEntry, error) {
	if owner == "" {
		return service.PatientEntry{}, errors.New("--owner is required")
	}
	dt, err := domain.ParseDocType(docType)
	if err != nil {
		return service.PatientEntry{}, err
	}
	d, err := parseCLIDate(date)
	if err != nil {
		return service.PatientEntry{}, err
	}

	entry := service.PatientEntry{OwnerID: owner, Text: text, DocType: dt, Date: d, ExtraMetadata: meta}
	if len(fields) > 0 {
		entry.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			entry.Fields[k] = parseFieldValue(v)
		}
	}
	return entry, nil
}

// parseFieldValue keeps numbers and booleans typed so they render without quotes.
func parseFieldValue(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

func parseCLIDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
