package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/djahasiel101600/nia-attendance/auth"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <employee-id>",
	Short: "Authenticate and store a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		employeeID := args[0]

		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			password = string(raw)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		a := auth.New(cfg.AuthBaseURL, cfg.BaseURL+"/", st, auth.WithLogger(newLogger()))
		artifacts, err := a.Login(cmd.Context(), employeeID, password)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				// Keep the taxonomy out of user-facing output.
				return errors.New("login failed, check your credentials")
			case errors.Is(err, auth.ErrPageUnreachable), errors.Is(err, auth.ErrTokenNotFound):
				return fmt.Errorf("login service unavailable: %w", err)
			default:
				return err
			}
		}

		fmt.Printf("Logged in as %s\n", artifacts.EmployeeID)
		if artifacts.SessionCookies == "" {
			fmt.Println("Warning: no session cookie captured; fetches may be rejected")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
}
