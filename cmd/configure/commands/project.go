package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/benvon/visionpath/internal/config"
	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/exchange"
	"github.com/benvon/visionpath/internal/graph"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/store"
)

// projectStore is the part of a project store the project commands use
type projectStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	CreateProject(ctx context.Context, project *models.Project) error
}

// emailLookup resolves an owner by email; nil when no user database is in use
type emailLookup func(ctx context.Context, email string) (string, error)

var errHierarchyIssues = errors.New("project has hierarchy issues")

// NewProjectCmd creates the project command
func NewProjectCmd() *cobra.Command {
	var localPath string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Export, import and inspect projects",
		Long:  "Work with stored projects directly. Uses DATABASE_URL, or a local store directory with --local-store. Stop the server before opening its local store.",
	}
	cmd.PersistentFlags().StringVar(&localPath, "local-store", "", "Local store directory to use instead of Postgres")
	cmd.AddCommand(newProjectExportCmd(&localPath))
	cmd.AddCommand(newProjectImportCmd(&localPath))
	cmd.AddCommand(newProjectBlastRadiusCmd(&localPath))
	cmd.AddCommand(newProjectValidateCmd(&localPath))
	return cmd
}

// withProjects opens the selected store and runs fn
func withProjects(ctx context.Context, localPath string, fn func(ctx context.Context, st projectStore, lookup emailLookup) error) error {
	if localPath != "" {
		local, err := store.OpenLocal(store.DefaultLocalConfig(localPath))
		if err != nil {
			return err
		}
		defer func() {
			if err := local.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close local store: %v\n", err)
			}
		}()
		return fn(ctx, local, nil)
	}
	return withDB(ctx, func(ctx context.Context, db *database.DB) error {
		users := database.NewUserRepository(db)
		lookup := func(ctx context.Context, email string) (string, error) {
			u, err := users.GetByEmail(ctx, email)
			if err != nil {
				return "", err
			}
			return u.OwnerID(), nil
		}
		return fn(ctx, database.NewProjectRepository(db), lookup)
	})
}

func newProjectExportCmd(localPath *string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Write a project as a portable JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProjects(cmd.Context(), *localPath, func(ctx context.Context, st projectStore, _ emailLookup) error {
				if output == "" {
					return exportProject(ctx, st, args[0], cmd.OutOrStdout(), time.Now())
				}
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				if err := exportProject(ctx, st, args[0], f, time.Now()); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", args[0], output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write (default stdout)")
	return cmd
}

func exportProject(ctx context.Context, st projectStore, id string, w io.Writer, now time.Time) error {
	p, err := st.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", id, err)
	}
	data, err := exchange.Export(p, now)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func newProjectImportCmd(localPath *string) *cobra.Command {
	var owner, ownerEmail string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a project from an exported JSON document",
		Long:  "Import an export envelope or a bare project. The project gets a new id and the given owner; sharing is reset.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (owner == "") == (ownerEmail == "") {
				return fmt.Errorf("exactly one of --owner or --owner-email is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if int64(len(data)) > cfg.MaxImportBytes() {
				return fmt.Errorf("%s is larger than the %d byte import limit", args[0], cfg.MaxImportBytes())
			}

			return withProjects(cmd.Context(), *localPath, func(ctx context.Context, st projectStore, lookup emailLookup) error {
				ownerID := owner
				if ownerEmail != "" {
					if lookup == nil {
						return fmt.Errorf("--owner-email needs the user database; use --owner with --local-store")
					}
					if ownerID, err = lookup(ctx, ownerEmail); err != nil {
						return fmt.Errorf("failed to resolve owner %s: %w", ownerEmail, err)
					}
				}
				p, err := importProject(ctx, st, data, ownerID, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as %s (%d nodes, %d edges)\n", p.Title, p.ID, len(p.Nodes), len(p.Edges))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user id")
	cmd.Flags().StringVar(&ownerEmail, "owner-email", "", "Owner email, resolved through the user database")
	return cmd
}

func importProject(ctx context.Context, st projectStore, data []byte, ownerID string, now time.Time) (*models.Project, error) {
	p, err := exchange.Import(data, ownerID, now)
	if err != nil {
		return nil, err
	}
	if err := st.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store imported project: %w", err)
	}
	return p, nil
}

func newProjectBlastRadiusCmd(localPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "blast-radius <project-id> <node-id>",
		Short: "List the nodes affected by a change to a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProjects(cmd.Context(), *localPath, func(ctx context.Context, st projectStore, _ emailLookup) error {
				p, err := st.GetProject(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load project %s: %w", args[0], err)
				}
				return printBlastRadius(cmd.OutOrStdout(), p, args[1])
			})
		},
	}
}

func printBlastRadius(w io.Writer, p *models.Project, nodeID string) error {
	node := p.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("node %s not found in project %s", nodeID, p.ID)
	}
	summary := graph.Summarize(nodeID, p)
	fmt.Fprintf(w, "Blast radius of %q: %d node(s)\n", node.Title, summary.Total)
	for _, t := range models.NodeTypes {
		if n := summary.ByType[t]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", t, n)
		}
	}
	for _, id := range summary.NodeIDs {
		if n := p.NodeByID(id); n != nil {
			fmt.Fprintf(w, "  - %s [%s] %s\n", n.ID, n.Type, n.Title)
		}
	}
	return nil
}

func newProjectValidateCmd(localPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project-id>",
		Short: "Check a project's hierarchy and edges",
		Long:  "Report broken parent references, parent cycles and dangling edges. Exits non-zero when any are found.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProjects(cmd.Context(), *localPath, func(ctx context.Context, st projectStore, _ emailLookup) error {
				p, err := st.GetProject(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load project %s: %w", args[0], err)
				}
				return printValidation(cmd.OutOrStdout(), p)
			})
		},
	}
}

func printValidation(w io.Writer, p *models.Project) error {
	issues := graph.ValidateHierarchy(p)
	if len(issues) == 0 {
		fmt.Fprintf(w, "%s: no issues found\n", p.Title)
		return nil
	}
	for _, issue := range issues {
		fmt.Fprintf(w, "%s: %s\n", issue.Kind, issue.Message)
	}
	return fmt.Errorf("%w: %d found", errHierarchyIssues, len(issues))
}
