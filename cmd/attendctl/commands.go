package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"qrattend/internal/app"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/qrcode"
	"qrattend/internal/store"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "attendctl",
		Short:         "Operate the QR attendance stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(validateCmd(), classifyCmd(), qrCmd(), statsCmd(), migrateCmd())
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <payload>",
		Short: "Decode a scanned payload and print the student id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := qrcode.Validate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func classifyCmd() *cobra.Command {
	var cutoff string
	cmd := &cobra.Command{
		Use:   "classify <HH:MM:SS>",
		Short: "Show the status a scan at the given time would receive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			observed, err := attendance.ParseTimeOfDay(args[0])
			if err != nil {
				return err
			}
			c, err := attendance.NewClassifier(cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), attendance.Classify(observed, c.Cutoff))
			return nil
		},
	}
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "Cutoff time (defaults to CUTOFF_TIME or "+attendance.DefaultCutoff+")")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("cutoff") {
			cutoff = config.Load().CutoffTime
		}
		return nil
	}
	return cmd
}

func qrCmd() *cobra.Command {
	var (
		out  string
		size int
	)
	cmd := &cobra.Command{
		Use:   "qr <student-id>",
		Short: "Render a student's QR code as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			backends, err := app.Open(ctx, config.Load(), slog.Default())
			if err != nil {
				return err
			}
			defer backends.Close()

			s, err := backends.Students.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("student %s not found", args[0])
			}
			png, err := qrcode.PNG(s.QRCode, size)
			if err != nil {
				return err
			}
			if out == "" {
				out = "qr-" + s.StudentNumber + ".png"
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for %s (%s)\n", out, s.Name, s.StudentNumber)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default qr-<student number>.png)")
	cmd.Flags().IntVar(&size, "size", qrcode.DefaultSize, "Image size in pixels")
	return cmd
}

func statsCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the daily attendance summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date != "" {
				if _, err := attendance.ParseDate(date); err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			backends, err := app.Open(ctx, config.Load(), slog.Default())
			if err != nil {
				return err
			}
			defer backends.Close()

			stats, err := attendance.NewAggregator(backends.Students, backends.Records, backends.Clock).GetStats(ctx, date)
			if err != nil {
				return err
			}
			return writeStats(cmd, stats)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD (default today)")
	return cmd
}

func writeStats(cmd *cobra.Command, stats attendance.Stats) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{
		"date":            stats.Date,
		"total_students":  stats.TotalStudents,
		"present":         stats.PresentCount,
		"late":            stats.LateCount,
		"absent":          stats.AbsentCount,
		"attendance_rate": stats.AttendanceRate,
	}); err != nil {
		return err
	}
	return enc.Close()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			db, err := store.NewDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
