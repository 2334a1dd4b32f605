package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/cmd/authctl/config"
	"github.com/gradeloop/authkit/cookie"
	"github.com/gradeloop/authkit/iam"
	"github.com/gradeloop/authkit/state"
	"github.com/gradeloop/authkit/token"
)

// cliSession is the wired auth stack plus the jar and saved context it was
// seeded from, so commands can read tokens back out after an operation.
type cliSession struct {
	auth *iam.Authenticator
	jar  *cookie.MemoryJar
	file *config.File
	ctx  *config.Context
}

func newCLISession(cmd *cobra.Command) (*cliSession, error) {
	file, err := config.Load()
	if err != nil {
		return nil, err
	}
	ctx := file.Current()

	if server, _ := cmd.Flags().GetString("server"); server != "" {
		ctx.ServerEndpoint = server
	}
	if ctx.ServerEndpoint == "" {
		return nil, errors.New("no server endpoint configured; pass --server or log in once with it set")
	}

	jar := cookie.NewMemoryJar()
	auth := iam.NewAuthenticator(iam.AuthenticatorConfig{
		BaseURL: ctx.ServerEndpoint,
		// CLI traffic is machine-local; cookie Secure handling is moot.
		Insecure: true,
		Jar:      jar,
		Logger:   logger,
	})

	s := &cliSession{auth: auth, jar: jar, file: file, ctx: ctx}
	s.seedJar()
	return s, nil
}

// seedJar loads the saved token pair into the in-process jar so the gateway
// finds credentials the same way the browser flow would.
func (s *cliSession) seedJar() {
	if s.ctx.AccessToken == "" && s.ctx.RefreshToken == "" {
		return
	}
	pair := authkit.TokenPair{
		AccessToken:      s.ctx.AccessToken,
		RefreshToken:     s.ctx.RefreshToken,
		ExpiresAt:        s.ctx.ExpiresAt,
		RefreshExpiresAt: s.ctx.RefreshExpiresAt,
	}
	if err := s.auth.Manager.StoreTokenPair(pair, s.ctx.SessionID); err != nil {
		logger.Warn().Err(err).Msg("failed to seed token jar from saved context")
	}
}

// saveContext writes the jar's current tokens back to the config file.
func (s *cliSession) saveContext() error {
	access, _ := s.jar.Get(cookie.AccessToken)
	refresh, _ := s.jar.Get(cookie.RefreshToken)
	sessionID, _ := s.jar.Get(cookie.SessionID)

	s.ctx.AccessToken = access
	s.ctx.RefreshToken = refresh
	s.ctx.SessionID = sessionID
	s.ctx.ExpiresAt = s.auth.Store.ExpiresAt()
	if refresh == "" {
		s.ctx.RefreshExpiresAt = time.Time{}
	} else if exp, ok := token.ExpiryOf(refresh); ok {
		s.ctx.RefreshExpiresAt = exp
	}
	return config.Save(s.file)
}

func stateStorage() (state.FileStorage, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return state.FileStorage{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return state.FileStorage{Path: filepath.Join(home, ".gradeloop", "session.yaml")}, nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the IAM server and save the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newCLISession(cmd)
		if err != nil {
			return err
		}

		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		email, _ := reader.ReadString('\n')
		email = strings.TrimSpace(email)

		fmt.Print("Password: ")
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		user, err := s.auth.Login(cmd.Context(), email, string(bytePassword))
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		if err := s.saveContext(); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		if storage, err := stateStorage(); err == nil {
			if err := s.auth.Store.Persist(storage); err != nil {
				logger.Warn().Err(err).Msg("failed to persist session state")
			}
		}

		fmt.Printf("Logged in as %s (%s)\n", user.FullName, user.Email)
		if roles := user.RoleNames(); len(roles) > 0 {
			fmt.Printf("Roles: %s\n", strings.Join(roles, ", "))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and discard the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newCLISession(cmd)
		if err != nil {
			return err
		}
		if s.ctx.AccessToken == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		if err := s.auth.Logout(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("server-side logout failed; local credentials cleared")
		}

		if err := s.saveContext(); err != nil {
			return fmt.Errorf("clear saved credentials: %w", err)
		}
		if storage, err := stateStorage(); err == nil {
			if err := s.auth.Store.Persist(storage); err != nil {
				logger.Warn().Err(err).Msg("failed to persist session state")
			}
		}

		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the currently authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newCLISession(cmd)
		if err != nil {
			return err
		}
		if s.ctx.AccessToken == "" {
			return errors.New("not logged in")
		}

		user, err := s.auth.Client.CurrentUser(cmd.Context())
		if err != nil {
			return err
		}
		// A 401 retry may have rotated the pair; keep the file current.
		if err := s.saveContext(); err != nil {
			logger.Warn().Err(err).Msg("failed to update saved credentials")
		}

		fmt.Printf("%s (%s)\n", user.FullName, user.Email)
		fmt.Printf("  id:    %s\n", user.ID)
		fmt.Printf("  type:  %s\n", user.UserType)
		if roles := user.RoleNames(); len(roles) > 0 {
			fmt.Printf("  roles: %s\n", strings.Join(roles, ", "))
		}
		return nil
	},
}
