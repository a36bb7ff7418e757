package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/djahasiel101600/nia-attendance/attendance"
	"github.com/djahasiel101600/nia-attendance/store"
)

var (
	fetchYear   int
	fetchMonth  string
	fetchLength int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [employee-id]",
	Short: "Fetch attendance records",
	Long: `Fetch a page of attendance records. Without an employee ID argument the
stored identity from the last login is used.`,
	Args: cobra.MaximumNArgs(1),
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

		employeeID, err := resolveEmployeeID(args, st)
		if err != nil {
			return err
		}

		q := attendance.Query{Year: fetchYear, Length: fetchLength}
		if fetchMonth != "" {
			m, err := parseMonth(fetchMonth)
			if err != nil {
				return err
			}
			q.Month = m
		}

		c := attendance.NewClient(cfg.BaseURL, st,
			attendance.WithLogger(newLogger()),
			attendance.WithDefaultLength(cfg.RecordLength))
		result, err := c.Fetch(cmd.Context(), employeeID, q)
		if err != nil {
			if errors.Is(err, attendance.ErrUnauthorized) {
				return errors.New("session expired, run `niattend login` again")
			}
			return err
		}

		printRecords(result)
		return nil
	},
}

func resolveEmployeeID(args []string, st store.Store) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	id, err := st.Get(store.KeyEmployeeID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errors.New("no stored identity, pass an employee ID or run `niattend login`")
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// parseMonth accepts an English month name, a prefix of one, or a number
// 1-12.
func parseMonth(s string) (time.Month, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return time.Month(n), nil
		}
		return 0, fmt.Errorf("month %d out of range", n)
	}
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), s) || strings.HasPrefix(strings.ToLower(m.String()), strings.ToLower(s)) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown month %q", s)
}

func printRecords(result *attendance.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEMPLOYEE\tMACHINE\tTEMP\tSTATUS")
	for _, r := range result.Records {
		temp := "-"
		if r.Temperature != nil {
			temp = fmt.Sprintf("%.1f", *r.Temperature)
		}
		ts := "-"
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Format("2006-01-02 15:04:05")
		}
		status := "granted"
		if r.Status == attendance.StatusDenied {
			status = "DENIED"
		}
		fmt.Fprintf(w, "%s\t%s (%s)\t%s\t%s\t%s\n", ts, r.EmployeeName, r.EmployeeID, r.MachineName, temp, status)
	}
	w.Flush()
	fmt.Printf("%d of %d records\n", len(result.Records), result.TotalCount)
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().IntVar(&fetchYear, "year", 0, "Year to query (default: current)")
	fetchCmd.Flags().StringVar(&fetchMonth, "month", "", "Month to query (default: current)")
	fetchCmd.Flags().IntVar(&fetchLength, "length", 0, "Number of records (default from config)")
}
