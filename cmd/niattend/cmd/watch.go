package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/djahasiel101600/nia-attendance/attendance"
	"github.com/djahasiel101600/nia-attendance/auth"
	"github.com/djahasiel101600/nia-attendance/monitor"
	"github.com/djahasiel101600/nia-attendance/realtime"
)

var watchCmd = &cobra.Command{
	Use:   "watch [employee-id]",
	Short: "Watch attendance records in real time",
	Long: `Maintain a live view of attendance records. Updates arrive over the
server's realtime channel when available and by polling otherwise.`,
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

		logger := newLogger()
		a := auth.New(cfg.AuthBaseURL, cfg.BaseURL+"/", st, auth.WithLogger(logger))
		fetcher := attendance.NewClient(cfg.BaseURL, st,
			attendance.WithLogger(logger),
			attendance.WithDefaultLength(cfg.RecordLength))
		channel := realtime.NewChannel(cfg.BaseURL, cfg.HubName,
			realtime.WithProtocol(cfg.ClientProtocol),
			realtime.WithMaxReconnects(cfg.MaxReconnectAttempts),
			realtime.WithChannelLogger(logger))
		negotiator := realtime.NewNegotiator(cfg.BaseURL, cfg.HubName, st,
			realtime.WithNegotiatorProtocol(cfg.ClientProtocol),
			realtime.WithNegotiatorLogger(logger))

		channel.Subscribe(func(sig realtime.Signal, payload any) {
			switch sig {
			case realtime.SignalConnected:
				fmt.Println("realtime: connected")
			case realtime.SignalReconnecting:
				if info, ok := payload.(realtime.ReconnectInfo); ok {
					fmt.Printf("realtime: reconnecting (attempt %d in %s)\n", info.Attempt, info.Delay)
				}
			case realtime.SignalConnectionFailed:
				fmt.Println("realtime: unavailable, polling instead")
			}
		})

		m := monitor.New(employeeID, fetcher, channel, negotiator, a.SessionCookies,
			monitor.WithLogger(logger),
			monitor.WithRecordLength(cfg.RecordLength),
			monitor.WithPollInterval(cfg.PollInterval()),
			monitor.WithOnUpdate(func(records []attendance.Record) {
				printRecords(&attendance.Result{Records: records, TotalCount: len(records)})
			}))

		m.Start(cmd.Context())
		defer m.Stop()

		fmt.Printf("Watching attendance for %s, Ctrl-C to stop\n", employeeID)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
