package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

const mutationSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mutations"],
  "additionalProperties": false,
  "properties": {
    "mutations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "id", "changes"],
        "additionalProperties": false,
        "properties": {
          "kind": { "enum": ["task", "milestone"] },
          "id": { "type": "string", "minLength": 1 },
          "changes": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "status": { "enum": ["pending", "in_progress", "on_hold", "completed", "cancelled"] },
              "progress_percentage": { "type": "integer", "minimum": 0, "maximum": 100 },
              "title": { "type": "string", "minLength": 1 },
              "description": { "type": "string" },
              "due_at": { "type": "string", "format": "date-time" },
              "clear_due_at": { "type": "boolean" },
              "estimated_hours": { "type": "number", "minimum": 0 },
              "actual_hours": { "type": "number", "minimum": 0 },
              "priority": { "enum": ["low", "medium", "high"] },
              "weight": { "type": "number", "exclusiveMinimum": 0 }
            }
          }
        }
      }
    }
  }
}`

var mutationSchemaLoader = gojsonschema.NewStringLoader(mutationSchemaJSON)

// MutationDocument is a batch of gateway mutations read by `milepost apply`.
type MutationDocument struct {
	Mutations []DocumentMutation `json:"mutations"`
}

type DocumentMutation struct {
	Kind    progress.Kind               `json:"kind"`
	ID      string                      `json:"id"`
	Changes application.MutationRequest `json:"changes"`
}

// ParseMutationDocument validates data against the mutation schema and decodes it.
func ParseMutationDocument(data []byte) (*MutationDocument, error) {
	result, err := gojsonschema.Validate(mutationSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", progress.ErrInvalidChanges, err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", progress.ErrInvalidChanges, strings.Join(issues, "; "))
	}
	var doc MutationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", progress.ErrInvalidChanges, err)
	}
	return &doc, nil
}

func newApplyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply -f <file>",
		Short: "Apply a JSON document of task and milestone mutations",
		Long: `Apply a JSON document of task and milestone mutations in order.

The document is validated before anything is written. Application stops at the
first rejected mutation; earlier mutations stay applied.`,
		Example: `  {"mutations": [
    {"kind": "task", "id": "t-1", "changes": {"status": "completed"}},
    {"kind": "milestone", "id": "m-1", "changes": {"weight": 2}}
  ]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			doc, err := ParseMutationDocument(data)
			if err != nil {
				return MapError(err)
			}
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				results, err := applyDocument(ctx, s.Service, doc)
				if done, serr := structured(cmd.OutOrStdout(), results); done {
					if serr != nil {
						return serr
					}
					return err
				}
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", r.Kind, r.ID, r.Outcome)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "mutation document (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type applyResult struct {
	Kind            progress.Kind   `json:"kind" yaml:"kind"`
	ID              string          `json:"id" yaml:"id"`
	Outcome         string          `json:"outcome" yaml:"outcome"`
	Status          progress.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Progress        int             `json:"progress_percentage" yaml:"progress_percentage"`
	BookingProgress *int            `json:"booking_progress,omitempty" yaml:"booking_progress,omitempty"`
	Warning         string          `json:"warning,omitempty" yaml:"warning,omitempty"`
}

func applyDocument(ctx context.Context, svc *application.MutationService, doc *MutationDocument) ([]applyResult, error) {
	results := make([]applyResult, 0, len(doc.Mutations))
	for i, mut := range doc.Mutations {
		changes, err := mut.Changes.Changes()
		if err != nil {
			return results, fmt.Errorf("mutation %d (%s %s): %w", i, mut.Kind, mut.ID, err)
		}
		res, err := svc.ApplyMutation(ctx, mut.Kind, mut.ID, changes)
		if err != nil {
			return results, fmt.Errorf("mutation %d (%s %s): %w", i, mut.Kind, mut.ID, err)
		}
		r := applyResult{Kind: mut.Kind, ID: mut.ID, Outcome: "applied"}
		switch {
		case res.Task != nil:
			r.Status, r.Progress = res.Task.Status, res.Task.ProgressPercentage
		case res.Milestone != nil:
			r.Status, r.Progress = res.Milestone.Status, res.Milestone.ProgressPercentage
		}
		if res.Cascade != nil {
			bp := res.Cascade.BookingProgress
			r.BookingProgress = &bp
		}
		if res.Warning != nil {
			r.Outcome = "applied with warning"
			r.Warning = res.Warning.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, NewCLIError(fmt.Sprintf("cannot read %s", file), "Check the --file path", err)
	}
	return data, nil
}
