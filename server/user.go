package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/devilmonastery/parley/internal/config"
	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/domain/services"
)

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
		Long:  "Commands for inspecting accounts in the Parley database",
	}

	cmd.AddCommand(newUserListCommand(opts))
	cmd.AddCommand(newUserShowCommand(opts))

	return cmd
}

func newUserListCommand(opts *rootOptions) *cobra.Command {
	var (
		output     string
		listOpts   repositories.ListUsersOptions
		legacyOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Example: `  # Accounts that still carry only a legacy identity
  server user list --legacy

  # Machine-readable output
  server user list --search grace -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "yaml" {
				return fmt.Errorf("invalid output format: %s (must be 'table' or 'yaml')", output)
			}
			listOpts.LegacyOnly = legacyOnly
			return withUserService(cmd.Context(), opts.cfg, func(ctx context.Context, svc *services.UserService) error {
				users, total, err := svc.ListUsers(ctx, listOpts)
				if err != nil {
					return err
				}
				return writeUserList(cmd.OutOrStdout(), users, total, output)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, yaml)")
	cmd.Flags().IntVar(&listOpts.Limit, "limit", 50, "Maximum number of accounts")
	cmd.Flags().IntVar(&listOpts.Offset, "offset", 0, "Number of accounts to skip")
	cmd.Flags().StringVar(&listOpts.Search, "search", "", "Filter by name, display name or email")
	cmd.Flags().StringVar(&listOpts.SortBy, "sort", repositories.SortByCreated, "Sort by ("+repositories.SortByCreated+", "+repositories.SortByName+", "+repositories.SortByLastLogin+")")
	cmd.Flags().StringVar(&listOpts.SortOrder, "order", "desc", "Sort order (asc, desc)")
	cmd.Flags().BoolVar(&legacyOnly, "legacy", false, "Only accounts not yet migrated to linked identities")

	return cmd
}

func newUserShowCommand(opts *rootOptions) *cobra.Command {
	var theme string

	cmd := &cobra.Command{
		Use:   "show <user-id|name|provider:external-id>",
		Short: "Show an account, its linked identities and recent activity",
		Example: `  server user show grace-hopper
  server user show github:583231`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserService(cmd.Context(), opts.cfg, func(ctx context.Context, svc *services.UserService) error {
				user, err := svc.FindUser(ctx, args[0])
				if err != nil {
					return err
				}
				activity, err := svc.RecentActivity(ctx, user.ID, 10)
				if err != nil {
					return err
				}
				return printMarkdown(cmd.OutOrStdout(), userMarkdown(user, activity), theme)
			})
		},
	}

	cmd.Flags().StringVar(&theme, "theme", "auto", "glamour style used on terminals (auto, dark, light, notty)")

	return cmd
}

// withUserService opens the configured store for the duration of fn
func withUserService(ctx context.Context, cfg *config.Config, fn func(context.Context, *services.UserService) error) error {
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()
	return fn(ctx, services.NewUserService(store.repos))
}

type userListing struct {
	Total int64           `yaml:"total"`
	Users []userListEntry `yaml:"users"`
}

type userListEntry struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	DisplayName string     `yaml:"display_name"`
	Email       string     `yaml:"email,omitempty"`
	Legacy      bool       `yaml:"legacy,omitempty"`
	Identities  []string   `yaml:"identities,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at"`
	LastLogin   *time.Time `yaml:"last_login,omitempty"`
}

func listEntry(u *entities.User) userListEntry {
	e := userListEntry{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Legacy:      u.IsLegacy(),
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
	}
	for _, i := range u.Identities {
		e.Identities = append(e.Identities, i.ProviderKey())
	}
	return e
}

func writeUserList(w io.Writer, users []*entities.User, total int64, format string) error {
	if format == "yaml" {
		listing := userListing{Total: total, Users: make([]userListEntry, 0, len(users))}
		for _, u := range users {
			listing.Users = append(listing.Users, listEntry(u))
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listing); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDISPLAY NAME\tPROVIDERS\tLAST LOGIN")
	for _, u := range users {
		e := listEntry(u)
		providers := strings.Join(e.Identities, ",")
		if e.Legacy {
			providers = "(legacy)"
		}
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.DisplayName, providers, lastLogin)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d of %d accounts\n", len(users), total)
	return err
}

// userMarkdown renders an account as a markdown document
func userMarkdown(u *entities.User, activity []*entities.AuditLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", u.DisplayName)
	fmt.Fprintf(&b, "- **ID:** `%s`\n", u.ID)
	fmt.Fprintf(&b, "- **Name:** `%s`\n", u.Name)
	if u.Email != "" {
		fmt.Fprintf(&b, "- **Email:** %s\n", u.Email)
	}
	fmt.Fprintf(&b, "- **Created:** %s\n", u.CreatedAt.Format(time.RFC3339))
	if u.LastLogin != nil {
		fmt.Fprintf(&b, "- **Last login:** %s\n", u.LastLogin.Format(time.RFC3339))
	}
	if u.LegacyIdentity != nil {
		fmt.Fprintf(&b, "- **Legacy identity:** `%s`\n", *u.LegacyIdentity)
	}

	b.WriteString("\n## Linked identities\n\n")
	if len(u.Identities) == 0 {
		b.WriteString("_none_\n")
	} else {
		b.WriteString("| Provider | External ID | Email | Linked |\n|---|---|---|---|\n")
		for _, i := range u.Identities {
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n", i.Provider, i.ExternalID, i.Email, i.CreatedAt.Format(time.RFC3339))
		}
	}

	if len(activity) > 0 {
		b.WriteString("\n## Recent activity\n\n")
		for _, a := range activity {
			status := ""
			if !a.Success {
				status = " (failed)"
			}
			fmt.Fprintf(&b, "- %s `%s`%s\n", a.CreatedAt.Format(time.RFC3339), a.Action, status)
		}
	}
	return b.String()
}

// printMarkdown renders markdown with glamour when w is a terminal, plain otherwise
func printMarkdown(w io.Writer, markdown, theme string) error {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if rendered, err := glamour.Render(markdown, theme); err == nil {
			markdown = rendered
		}
	}
	_, err := io.WriteString(w, markdown)
	return err
}
