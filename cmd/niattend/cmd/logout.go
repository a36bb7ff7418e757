package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djahasiel101600/nia-attendance/auth"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored identity and session",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if err := a.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
