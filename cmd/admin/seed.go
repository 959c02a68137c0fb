package main

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"docchat/internal/app"
	appctx "docchat/internal/core/context"
	"docchat/internal/domain/auth"
	"docchat/internal/domain/chat"
	"docchat/internal/domain/project"
)

type seedUser struct {
	Account  auth.NewUserRequest
	Projects []seedProject
}

type seedProject struct {
	Project  project.Project
	Sessions []seedSession
}

type seedSession struct {
	Session  chat.Session
	Messages []chat.Message
}

// seedPlan generates demo data; the same seed always yields the same plan.
func seedPlan(seed int64, users, projects, sessions, messages int) []seedUser {
	f := gofakeit.New(seed)
	plan := make([]seedUser, 0, users)
	for u := 0; u < users; u++ {
		su := seedUser{Account: auth.NewUserRequest{
			Username: fmt.Sprintf("%s%d", f.Username(), u),
			Email:    fmt.Sprintf("user%d.%s", u, f.Email()),
			Password: f.Password(true, true, true, false, false, 12),
		}}
		for p := 0; p < projects; p++ {
			sp := seedProject{Project: project.Project{
				Name:        fmt.Sprintf("%s %d", f.Company(), p),
				Description: f.Sentence(8),
			}}
			for s := 0; s < sessions; s++ {
				ss := seedSession{Session: chat.Session{Title: fmt.Sprintf("%s %d", f.BuzzWord(), s)}}
				for m := 0; m < messages; m++ {
					role, content := chat.RoleUser, f.Question()
					if m%2 == 1 {
						role, content = chat.RoleBot, f.Paragraph(1, 3, 12, " ")
					}
					ss.Messages = append(ss.Messages, chat.Message{
						Content:    content,
						Role:       role,
						ModelName:  "demo",
						TokenCount: f.IntRange(5, 400),
					})
				}
				sp.Sessions = append(sp.Sessions, ss)
			}
			su.Projects = append(su.Projects, sp)
		}
		plan = append(plan, su)
	}
	return plan
}

func newSeedCommand() *cobra.Command {
	var (
		seed                                int64
		users, projects, sessions, messages int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with demo users, projects and chats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan := seedPlan(seed, users, projects, sessions, messages)
			a := appFrom(cmd)
			for _, su := range plan {
				if err := applySeed(cmd.Context(), a, su); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %s (password %s)\n", su.Account.Email, su.Account.Password)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&users, "users", 3, "users to create")
	cmd.Flags().IntVar(&projects, "projects", 2, "projects per user")
	cmd.Flags().IntVar(&sessions, "sessions", 2, "sessions per project")
	cmd.Flags().IntVar(&messages, "messages", 4, "messages per session")
	return cmd
}

// applySeed creates one user's data through the gated services, acting as
// that user so every record gets its owner grant.
func applySeed(ctx context.Context, a *app.App, su seedUser) error {
	user, err := a.Auth.CreateUser(ctx, su.Account)
	if err != nil {
		return fmt.Errorf("seed user %s: %w", su.Account.Username, err)
	}
	ctx = appctx.WithUser(ctx, user.Context())

	for _, sp := range su.Projects {
		p := sp.Project
		created, err := a.Projects.Create(ctx, &p)
		if err != nil {
			return fmt.Errorf("seed project %q: %w", p.Name, err)
		}
		for _, ss := range sp.Sessions {
			s := ss.Session
			s.ProjectID = created.ID
			session, err := a.Sessions.Create(ctx, &s)
			if err != nil {
				return fmt.Errorf("seed session %q: %w", s.Title, err)
			}
			for _, m := range ss.Messages {
				m.ChatSessionID = session.ID
				if _, err := a.Messages.Create(ctx, &m); err != nil {
					return fmt.Errorf("seed message in session %d: %w", session.ID, err)
				}
			}
		}
	}
	return nil
}
