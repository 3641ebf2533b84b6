package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/auth"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/comments"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/preview"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newResolveCommand() *cobra.Command {
	var (
		commentID string
		email     string
		authorURL string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Run one comment submission against the configured store and cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := newApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			outcome, err := app.comments.HandleSubmission(cmd.Context(), comments.Submission{
				CommentID:   commentID,
				AuthorEmail: email,
				AuthorURL:   authorURL,
			})
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(outcome)
		},
	}
	cmd.Flags().StringVar(&commentID, "comment-id", "", "Comment identifier")
	cmd.Flags().StringVar(&email, "email", "", "Author email address")
	cmd.Flags().StringVar(&authorURL, "url", "", "Author profile URL")
	_ = cmd.MarkFlagRequired("comment-id")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a submission hook token for a host application",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, _, err := loadRuntime()
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.HookSigningSecret),
				TokenTTL:      appConfig.HookTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueHookToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires in %d seconds\n", token, expiresIn)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Host application identifier")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// The preview command mirrors what the comment form does while an email is typed.
func newPreviewCommand() *cobra.Command {
	var (
		email     string
		size      int
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the live preview image URL for an email and probe the server for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			imageURL, ok := preview.ImageURL(email, size)
			if !ok {
				return errors.New("email is required")
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), imageURL); err != nil {
				return err
			}

			base := strings.TrimRight(serverURL, "/")
			if base == "" {
				base = "http://" + viper.GetString("http.address")
			}
			session := preview.NewSession(http.DefaultClient, base+"/preview/probe")
			exists, err := session.HasAvatar(cmd.Context(), imageURL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "avatar exists: %t\n", exists)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address typed into the form")
	cmd.Flags().IntVar(&size, "size", 80, "Preview size in pixels")
	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of a running avatar-mirror (defaults to http.address)")
	return cmd
}
