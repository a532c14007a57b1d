package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"chatsync/pkg/domain"
	"chatsync/pkg/messages"
	"chatsync/pkg/session"
)

func registerCmd() *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "register <email> <password>",
		Short: "Create a local user profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			hash, err := session.HashPassword(args[1])
			if err != nil {
				return err
			}
			if displayName == "" {
				displayName = args[0]
			}
			uid := uuid.NewString()
			if err := s.profiles.EnsureUser(cmd.Context(), domain.UserProfile{
				ID:           uid,
				Email:        args[0],
				DisplayName:  displayName,
				PasswordHash: hash,
			}); err != nil {
				return err
			}
			fmt.Printf("registered %s (%s)\n", args[0], uid)
			return nil
		},
	}
	cmd.Flags().StringVarP(&displayName, "name", "n", "", "display name")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Sign in and store the session token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			if err := s.session.SignIn(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if err := writeToken(s.session.Token()); err != nil {
				return err
			}
			uid, err := s.session.CurrentUserID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("signed in as %s\n", uid)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat> <text>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			id, err := s.composer.Create(cmd.Context(), args[0], messages.CreateForm{
				Type: domain.ContentText,
				Text: args[1],
			})
			if err != nil {
				return err
			}
			s.uploader.Wait()
			fmt.Println(id)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "watch <chat>",
		Short: "Follow a chat's live message window; press enter to load older history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := s.sync.OpenLiveWindow(ctx, args[0], pageSize); err != nil {
				return err
			}
			defer s.sync.Close()

			select {
			case <-s.sync.FirstLoad():
			case <-ctx.Done():
				return nil
			}

			// An input line pages further into history.
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					s.sync.LoadMore(ctx, args[0], messages.Top, pageSize)
				}
			}()

			printed := make(map[string]bool)
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				printNew(os.Stdout, s.sync.Window().Snapshot(), printed)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().IntVarP(&pageSize, "page-size", "p", messages.DefaultPageSize, "live window size")
	return cmd
}

// printNew writes window entries not printed before, in window order,
// and marks them. Tracking by id keeps the output correct when
// prepended history or removals shift the snapshot.
func printNew(w io.Writer, snap []messages.DisplayMessage, printed map[string]bool) {
	for _, m := range snap {
		if printed[m.ID] {
			continue
		}
		printed[m.ID] = true
		fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Format(time.TimeOnly), m.Sender.DisplayName, m.Text)
	}
}
