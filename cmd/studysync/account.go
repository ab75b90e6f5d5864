package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/identity"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var registerCmd = &cobra.Command{
	Use:     "register",
	GroupID: "account",
	Short:   "Create an account and start syncing",
	Long: `Create an account on the sync server and switch to it.

The new account starts with an empty plan. Work done while logged out stays
in the local slot and comes back after logout.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		email, password, err := readCredentials(cmd)
		if err != nil {
			return err
		}
		s, err := a.binder.Register(cmd.Context(), email, password)
		if err != nil {
			return accountError(err)
		}
		fmt.Printf("%s Registered %s\n", ui.RenderPass("✓"), s.Email)
		return nil
	}),
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Log in and load your synced plan",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		email, password, err := readCredentials(cmd)
		if err != nil {
			return err
		}
		s, err := a.binder.Login(cmd.Context(), email, password)
		if err != nil {
			return accountError(err)
		}
		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), s.Email)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Upload pending changes and return to the local plan",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		s, err := a.binder.Current(cmd.Context())
		if err != nil {
			return err
		}
		if s.UserID == "" {
			fmt.Println(ui.RenderMuted("Not logged in"))
			return nil
		}
		if err := a.binder.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Logged out %s\n", ui.RenderPass("✓"), s.Email)
		return nil
	}),
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the current identity",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		s, err := a.binder.Current(cmd.Context())
		if err != nil {
			return err
		}
		if s.UserID == "" {
			fmt.Println("local (not logged in)")
			return nil
		}
		fmt.Printf("%s %s\n", s.Email, ui.RenderMuted(s.UserID))
		return nil
	}),
}

func readCredentials(cmd *cobra.Command) (email, password string, err error) {
	email, _ = cmd.Flags().GetString("email")
	if email == "" {
		fmt.Fprint(os.Stderr, "Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return "", "", errors.New("email is required")
	}

	password = os.Getenv("STUDYSYNC_PASSWORD")
	if password == "" {
		password, err = ui.ReadPassword(os.Stdin, os.Stderr, "Password: ")
		if err != nil {
			return "", "", err
		}
	}
	return email, password, nil
}

func accountError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return errors.New("wrong email or password")
	case errors.Is(err, identity.ErrEmailTaken):
		return errors.New("that email already has an account, use login")
	default:
		return err
	}
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringP("email", "e", "", "Account email (prompted when omitted)")
	}
	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd)
}
