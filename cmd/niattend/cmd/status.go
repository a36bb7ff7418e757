package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djahasiel101600/nia-attendance/attendance"
	"github.com/djahasiel101600/nia-attendance/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored identity and probe API access",
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

		id, err := st.Get(store.KeyEmployeeID)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Println("Not logged in")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Identity: %s\n", id)

		if _, err := st.Get(store.KeySessionCookies); errors.Is(err, store.ErrNotFound) {
			fmt.Println("Session:  none stored")
			return nil
		}

		c := attendance.NewClient(cfg.BaseURL, st, attendance.WithLogger(newLogger()))
		if c.Probe(cmd.Context(), id) {
			fmt.Println("Session:  active")
		} else {
			fmt.Println("Session:  stored but rejected, run `niattend login` again")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
