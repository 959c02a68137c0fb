package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docchat/internal/domain/access"
	"docchat/internal/domain/auth"
	"docchat/internal/domain/query"
	"docchat/internal/domain/tier"
)

func newTierCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "tier", Short: "Manage tiers"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := appFrom(cmd).Tiers.CreateTier(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tier %d %q created\n", t.ID, t.Name)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "tier name")
	_ = create.MarkFlagRequired("name")

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tiers and their rate limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := listQuery(filter)
			if err != nil {
				return err
			}
			svc := appFrom(cmd).Tiers
			tiers, err := svc.ListTiers(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPATH\tLIMIT\tPERIOD")
			for _, t := range tiers {
				limits, err := svc.ListRateLimits(cmd.Context(), t.ID)
				if err != nil {
					return err
				}
				if len(limits) == 0 {
					fmt.Fprintf(w, "%d\t%s\t-\t-\t-\n", t.ID, t.Name)
				}
				for _, rl := range limits {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%ds\n", t.ID, t.Name, rl.Path, rl.Limit, rl.Period)
				}
			}
			return w.Flush()
		},
	}

	list.Flags().StringVar(&filter, "query", "", `query config as JSON, e.g. {"filters":{"name":{"ilike":"pro"}}}`)

	cmd.AddCommand(create, list)
	return cmd
}

// listQuery decodes a --query flag. An empty flag lists everything.
func listQuery(raw string) (*query.Config, error) {
	if raw == "" {
		return nil, nil
	}
	cfg, err := query.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("--query: %w", err)
	}
	return cfg, nil
}

func newRateLimitCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "ratelimit", Short: "Manage per-tier rate limits"}

	var rl tier.RateLimit
	create := &cobra.Command{
		Use:   "create",
		Short: "Limit one path for a tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rl.Name == "" {
				rl.Name = fmt.Sprintf("%d:%s", rl.TierID, tier.SanitizePath(rl.Path))
			}
			created, err := appFrom(cmd).Tiers.CreateRateLimit(cmd.Context(), rl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rate limit %q: %d requests per %ds on %s\n", created.Name, created.Limit, created.Period, created.Path)
			return nil
		},
	}
	create.Flags().Int64Var(&rl.TierID, "tier", 0, "tier id")
	create.Flags().StringVar(&rl.Path, "path", "", "request path, e.g. /api/v1/me")
	create.Flags().StringVar(&rl.Name, "name", "", "unique name (default tier:path)")
	create.Flags().IntVar(&rl.Limit, "limit", 0, "requests per period")
	create.Flags().IntVar(&rl.Period, "period", 3600, "window length in seconds")
	_ = create.MarkFlagRequired("tier")
	_ = create.MarkFlagRequired("path")
	_ = create.MarkFlagRequired("limit")

	cmd.AddCommand(create)
	return cmd
}

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var (
		req    auth.NewUserRequest
		tierID int64
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a local account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tierID > 0 {
				req.TierID = &tierID
			}
			u, err := appFrom(cmd).Auth.CreateUser(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d %q created (superuser=%t)\n", u.ID, u.Username, u.IsSuperuser)
			return nil
		},
	}
	create.Flags().StringVar(&req.Username, "username", "", "username")
	create.Flags().StringVar(&req.Email, "email", "", "email")
	create.Flags().StringVar(&req.Password, "password", "", "password, at least 8 characters")
	create.Flags().Int64Var(&tierID, "tier", 0, "tier id")
	create.Flags().BoolVar(&req.IsSuperuser, "superuser", false, "bypass resource access checks")
	for _, f := range []string{"username", "email", "password"} {
		_ = create.MarkFlagRequired(f)
	}

	var userID int64
	deactivate := &cobra.Command{
		Use:   "deactivate",
		Short: "Disable an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := appFrom(cmd).Auth.Deactivate(cmd.Context(), userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d deactivated\n", userID)
			return nil
		},
	}
	deactivate.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = deactivate.MarkFlagRequired("user")

	cmd.AddCommand(create, deactivate)
	return cmd
}

func newTokenCommand() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := appFrom(cmd).Auth.IssueToken(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newGrantCommand() *cobra.Command {
	var (
		userID     int64
		resourceID int64
		resource   string
		permission string
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a user access to a resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := appFrom(cmd).Gate.Grant(cmd.Context(), userID,
				access.Ref{ID: resourceID}, access.ResourceType(resource), access.Permission(permission))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d is %s of %s %d\n", userID, permission, resource, resourceID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().Int64Var(&resourceID, "id", 0, "resource id")
	cmd.Flags().StringVar(&resource, "resource", string(access.ResourceProject), "project, chat_session, chat_message or document")
	cmd.Flags().StringVar(&permission, "permission", string(access.PermissionViewer), "owner, collaborator or viewer")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
