package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beingSCK/work-journal-summarizer/internal/app"
	"github.com/beingSCK/work-journal-summarizer/internal/config"
	"github.com/beingSCK/work-journal-summarizer/internal/domain"
	"github.com/beingSCK/work-journal-summarizer/internal/heartbeat"
	"github.com/beingSCK/work-journal-summarizer/internal/llm"
	"github.com/beingSCK/work-journal-summarizer/internal/mail"
	"github.com/beingSCK/work-journal-summarizer/internal/replies"
	"github.com/beingSCK/work-journal-summarizer/internal/summarize"
)

var rootCmd = &cobra.Command{
	Use:   "wjs",
	Short: "Work journal summarizer",
	Long: `wjs reads a dated work journal, drafts periodic summaries with an AI model,
and emails them for approval. Replies ("approve", "revise: ...") move the
draft forward. A daily heartbeat merges stale staged checkpoints into the
journal and sends a status digest with a short news roundup.

Run it from cron: plain 'wjs' for the generation pass, 'wjs --check-replies'
hourly, 'wjs --heartbeat' each morning. Flags combine; each selected pass
runs once, in that order.`,
	RunE: runPasses,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WJS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "", "config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("force", false, "generate even if a recent summary exists")
	rootCmd.PersistentFlags().Bool("dry-run", false, "report intended actions; no model calls, sends, or writes")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("dry-run", rootCmd.PersistentFlags().Lookup("dry-run"))

	rootCmd.Flags().Bool("check-replies", false, "run the reply-check pass")
	rootCmd.Flags().Bool("heartbeat", false, "run the heartbeat pass")
	rootCmd.Flags().Int("days", 0, "lookback window in days (default from config)")
	_ = viper.BindPFlag("days", rootCmd.Flags().Lookup("days"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(statusCmd())
}

func runPasses(cmd *cobra.Command, args []string) error {
	checkReplies, _ := cmd.Flags().GetBool("check-replies")
	runHeartbeat, _ := cmd.Flags().GetBool("heartbeat")
	runSummary := !checkReplies && !runHeartbeat
	dryRun := viper.GetBool("dry-run")

	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if !dryRun {
			if err := a.Lock(); err != nil {
				return err
			}
		}

		// Passes that reach the model share one client; dry runs never do.
		var client *llm.Client
		if !dryRun {
			var err error
			if client, err = a.LLM(); err != nil {
				return err
			}
		}

		if checkReplies {
			p := replies.Processor{
				Journal: a.Journal, LLM: client, Mail: a.Mail,
				Repo: a.Repo, Events: a.Events, Config: a.Config, Now: a.Now,
			}
			res, err := p.Run(ctx, replies.RunOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			if err := printReplies(res); err != nil {
				return err
			}
		}

		if runSummary {
			s := summarize.Summarizer{
				Journal: a.Journal, LLM: client, Mail: a.Mail,
				Repo: a.Repo, Events: a.Events, Config: a.Config, Now: a.Now,
			}
			res, err := s.Run(ctx, summarize.RunOptions{
				Days:   viper.GetInt("days"),
				Force:  viper.GetBool("force"),
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}
			if err := printSummary(res); err != nil {
				return err
			}
		}

		if runHeartbeat {
			h := heartbeat.Runner{
				Journal: a.Journal, LLM: client, Feeds: a.Feeds, Mail: a.Mail,
				Repo: a.Repo, Events: a.Events, Config: a.Config, Now: a.Now,
			}
			res, err := h.Run(ctx, heartbeat.RunOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			if err := printHeartbeat(res); err != nil {
				return err
			}
		}
		return nil
	})
}

func initCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(email)), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			fmt.Println("Edit it, then run 'wjs auth login' to connect Gmail.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "your email address (summary recipient and sender)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func authCmd() *cobra.Command {
	auth := &cobra.Command{Use: "auth", Short: "Manage Gmail credentials"}
	auth.AddCommand(authLoginCmd())
	auth.AddCommand(authShowCmd())
	return auth
}

func authLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run the OAuth consent flow and cache a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			ts := mail.NewTokenSource(cfg.SecretsProjectDir(), cfg.Email.From)
			return ts.Login(cmd.Context())
		},
	}
	return cmd
}

func authShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			ts := mail.NewTokenSource(cfg.SecretsProjectDir(), cfg.Email.From)
			st := ts.Status()
			if viper.GetBool("json") {
				return printJSON(st)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Credential", "Path", "State"})
			tw.AppendRow(table.Row{"client secret", st.ClientSecretPath, presence(st.HasClientSecret)})
			tw.AppendRow(table.Row{"token", st.TokenPath, tokenState(st)})
			tw.AppendRow(table.Row{"service account", st.ServiceAccountPath, presence(st.HasServiceAccount)})
			tw.Render()
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show summaries, pending feedback, and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				summaries, err := a.Journal.ListSummaries()
				if err != nil {
					return err
				}
				feedback, err := a.Repo.PendingFeedback(ctx)
				if err != nil {
					return err
				}
				outbound, err := a.Repo.ListOutbound(ctx, 10)
				if err != nil {
					return err
				}
				processed, err := a.Repo.ListProcessedReplies(ctx, 10)
				if err != nil {
					return err
				}
				events, err := a.Repo.RecentEvents(ctx, 20)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"summaries":         summaries,
						"feedback":          feedback,
						"outbound":          outbound,
						"processed_replies": processed,
						"events":            events,
					})
				}
				printSummariesTable(summaries)
				printFeedbackTable(feedback)
				printOutboundTable(outbound)
				printProcessedTable(processed)
				printEventsTable(events)
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(configPath())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printSummary(res *summarize.RunResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Skipped {
		fmt.Println(res.SkipReason)
		fmt.Println("Use --force to generate anyway.")
		return nil
	}
	fmt.Printf("Found %d entries from %s to %s.\n",
		res.EntryCount, res.RangeStart.Format("2006-01-02"), res.RangeEnd.Format("2006-01-02"))
	if res.FeedbackUsed > 0 {
		fmt.Printf("Including %d reviewer feedback note(s).\n", res.FeedbackUsed)
	}
	if res.DryRun {
		fmt.Printf("[Dry run] Would write %s (%d prompt bytes, model %s).\n", res.DraftPath, res.PromptBytes, res.Model)
		fmt.Println("[Dry run] No API call made, no files written.")
		return nil
	}
	fmt.Println("Draft saved to:", res.DraftPath)
	if res.EmailedTo != "" {
		fmt.Println("Review email sent to:", res.EmailedTo)
	}
	if res.Preview != "" {
		fmt.Println()
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println("SUMMARY PREVIEW (first 500 chars):")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println(res.Preview)
	}
	return nil
}

func printReplies(res *replies.RunResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("Checked %d unread repl%s: %d processed, %d already handled.\n",
		res.Checked, plural(res.Checked, "y", "ies"), res.Processed, res.Skipped)
	for _, e := range res.FetchErrors {
		fmt.Println("  - fetch failed:", e)
	}
	for _, o := range res.Outcomes {
		line := fmt.Sprintf("  - %s: %s", o.From, o.Action)
		if o.Intent != "" {
			line += " (" + o.Intent + ")"
		}
		if o.DraftPath != "" {
			line += " " + o.DraftPath
		}
		fmt.Println(line)
	}
	return nil
}

func printHeartbeat(res *heartbeat.RunResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if len(res.Merged) == 0 {
		fmt.Println("No stale checkpoints to merge.")
	}
	for _, m := range res.Merged {
		if res.DryRun {
			fmt.Printf("[Dry run] Would merge %d checkpoint file(s) into %s.\n", m.Files, m.Date.Format("2006-01-02"))
		} else {
			fmt.Printf("Merged %d checkpoint file(s) into %s.\n", m.Files, m.Date.Format("2006-01-02"))
		}
	}
	if res.DryRun {
		fmt.Println("[Dry run] No feeds fetched, no digest sent.")
		return nil
	}
	fmt.Printf("Fetched %d headline(s); %d feed(s) failed.\n", res.Headlines, len(res.FeedErrors))
	for _, e := range res.FeedErrors {
		fmt.Println("  -", e)
	}
	fmt.Println("Digest sent to:", res.EmailedTo)
	return nil
}

func printSummariesTable(items []domain.Draft) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Range", "Days", "Status", "Path"})
	for _, d := range items {
		rng := d.RangeStart.Format("2006-01-02") + " to " + d.RangeEnd.Format("2006-01-02")
		tw.AppendRow(table.Row{rng, d.Days, d.Status, d.Path})
	}
	tw.Render()
}

func printFeedbackTable(items []domain.FeedbackNote) {
	if len(items) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pending Feedback", "Draft", "Created"})
	for _, n := range items {
		tw.AppendRow(table.Row{clip(n.Text, 48), n.DraftPath, n.CreatedAt})
	}
	tw.Render()
}

func printOutboundTable(items []domain.OutboundMessage) {
	if len(items) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Sent", "Kind", "Subject"})
	for _, m := range items {
		tw.AppendRow(table.Row{m.SentAt, m.Kind, clip(m.Subject, 60)})
	}
	tw.Render()
}

func printProcessedTable(items []domain.ProcessedReply) {
	if len(items) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Processed", "Reply", "Intent", "Draft"})
	for _, p := range items {
		draft := ""
		if p.DraftPath != nil {
			draft = *p.DraftPath
		}
		tw.AppendRow(table.Row{p.ProcessedAt, p.MessageID, p.Intent, draft})
	}
	tw.Render()
}

func printEventsTable(items []domain.Event) {
	if len(items) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Time", "Level", "Type", "Entity"})
	for _, e := range items {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += "/" + e.EntityID
		}
		tw.AppendRow(table.Row{e.TS, e.Level, e.Type, entity})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func tokenState(st mail.TokenStatus) string {
	if !st.HasToken {
		return "missing (run 'wjs auth login')"
	}
	if st.Expiry != "" {
		if exp, err := time.Parse(time.RFC3339, st.Expiry); err == nil && exp.Before(time.Now()) {
			return "expired (will refresh on next run)"
		}
		return "valid until " + st.Expiry
	}
	return "present"
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
