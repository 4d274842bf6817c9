package main

import (
	"fmt"
	"os"
	"time"

	"statebridge/internal/config"
	"statebridge/internal/platform"
	"statebridge/pkg/jwt"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the detected platform and its capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		desc := platform.NewProbe(nil).Detect()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), desc)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "platform:     %s\n", desc.Type)
		fmt.Fprintf(out, "capabilities: %v\n", desc.Capabilities)
		for k, v := range desc.Details {
			fmt.Fprintf(out, "  %s = %s\n", k, v)
		}
		return nil
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current project to a migration package",
	Long: `Write the current project to a migration package file.

When signed in, a single-use migration code for the package is printed too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.engine.Migration.ExportProjectPackage(s.ctx)
		if err != nil {
			return err
		}

		path := exportOut
		if path == "" {
			path = fmt.Sprintf("statebridge-%s-%s.json", result.Package.Platform, time.Now().UTC().Format("20060102-150405"))
		}
		if err := os.WriteFile(path, result.Data, 0o600); err != nil {
			return fmt.Errorf("failed to write package: %w", err)
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"file":       path,
				"code":       result.Code,
				"expires_at": result.ExpiresAt,
			})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Package written to %s\n", path)
		if result.Code != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Migration code: %s (valid until %s)\n",
				result.Code, result.ExpiresAt.Local().Format(time.RFC1123))
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <package-file>",
	Short: "Import a migration package file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read package: %w", err)
		}

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.engine.Migration.ImportProjectPackage(s.ctx, data); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Project imported.")
		return nil
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem <code>",
	Short: "Import the project behind a migration code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.engine.Migration.ImportWithCode(s.ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Project transferred.")
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the stored project if recent migrations targeted this platform",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.engine.Migration.AIRecommendedRestore(s.ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}
		if !result.Restored {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing restored: %s\n", result.Reason)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Project restored.")
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent migrations of the signed-in identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		records, err := s.engine.Migration.MigrationHistory(s.ctx, historyLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), records)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No migrations recorded.")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s -> %-9s  v%s\n",
				r.MigrationTimestamp.Local().Format(time.RFC3339), r.SourcePlatform, r.TargetPlatform, r.Version)
		}
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge-codes",
	Short: "Delete expired migration codes from the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		purged, err := s.engine.Migration.PurgeExpiredCodes(s.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired codes.\n", purged)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Package file to write (default: generated name)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Number of records to list (default: configured history limit)")

	rootCmd.AddCommand(probeCmd, exportCmd, importCmd, redeemCmd, restoreCmd, historyCmd, purgeCmd)
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <identity-id>",
	Short: "Issue an access token signed with the configured JWT secret",
	Long: `Issue an access token for local testing. Export it as STATEBRIDGE_TOKEN
to run the other commands as that identity.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if tokenTTL <= 0 {
			tokenTTL = cfg.JWT.Expiration
		}

		token, err := jwt.GenerateToken(args[0], tokenTTL, cfg.JWT.Secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: JWT_EXPIRATION)")
	rootCmd.AddCommand(tokenCmd)
}
