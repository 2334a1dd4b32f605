package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gradeloop/authkit/token"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage the current session",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved session's state without a network call",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newCLISession(cmd)
		if err != nil {
			return err
		}
		if s.ctx.AccessToken == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		fmt.Printf("Server:     %s\n", s.ctx.ServerEndpoint)
		fmt.Printf("Session ID: %s\n", s.ctx.SessionID)

		now := time.Now()
		if exp, ok := token.ExpiryOf(s.ctx.AccessToken); ok {
			if now.Before(exp) {
				fmt.Printf("Access:     valid, expires in %s\n", exp.Sub(now).Round(time.Second))
			} else {
				fmt.Printf("Access:     expired %s ago\n", now.Sub(exp).Round(time.Second))
			}
		} else {
			fmt.Println("Access:     opaque token, expiry unknown")
		}
		if exp, ok := token.ExpiryOf(s.ctx.RefreshToken); ok {
			if now.Before(exp) {
				fmt.Printf("Refresh:    valid, expires in %s\n", exp.Sub(now).Round(time.Second))
			} else {
				fmt.Printf("Refresh:    expired %s ago\n", now.Sub(exp).Round(time.Second))
			}
		}

		storage, err := stateStorage()
		if err != nil {
			return nil
		}
		if snap, err := s.auth.Store.Restore(storage); err == nil && snap.LastActivityMS > 0 {
			last := time.UnixMilli(snap.LastActivityMS)
			fmt.Printf("Last seen:  %s (%s ago)\n", last.Format(time.RFC3339), now.Sub(last).Round(time.Second))
		}
		return nil
	},
}

var sessionRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh now",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newCLISession(cmd)
		if err != nil {
			return err
		}
		if s.ctx.RefreshToken == "" {
			return errors.New("not logged in")
		}

		if err := s.auth.RefreshNow(cmd.Context()); err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		if err := s.saveContext(); err != nil {
			return fmt.Errorf("save rotated credentials: %w", err)
		}

		fmt.Println("Token pair refreshed.")
		return nil
	},
}

var sessionValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Ask the server whether the session is still valid",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newCLISession(cmd)
		if err != nil {
			return err
		}
		if s.ctx.AccessToken == "" {
			return errors.New("not logged in")
		}

		valid, user, err := s.auth.Client.Validate(cmd.Context())
		if err != nil {
			return err
		}
		if !valid {
			fmt.Println("Session is no longer valid.")
			return nil
		}
		if user != nil {
			fmt.Printf("Session is valid for %s.\n", user.Email)
		} else {
			fmt.Println("Session is valid.")
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionStatusCmd, sessionRefreshCmd, sessionValidateCmd)
}
