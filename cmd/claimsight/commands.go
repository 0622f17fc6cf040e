package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mdcapital/claimsight/internal/agent"
	"github.com/mdcapital/claimsight/internal/config"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/retrieval"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with a one-shot local run",
	Long: `Answer a business question about the loaded communications.

Examples:
  claimsight ask "How many claims are currently Denied?"
  claimsight ask --mode react "What are insurers saying about prior authorization?"
  claimsight ask --show-code "Which insurer has the highest average urgency?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return errors.New("question must not be empty")
		}
		mode, _ := cmd.Flags().GetString("mode")
		credential, _ := cmd.Flags().GetString("credential")
		showCode, _ := cmd.Flags().GetBool("show-code")

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		switch mode {
		case "":
		case agent.ModeLinear, agent.ModeReact:
			a.cfg.Agent.Mode = mode
		default:
			return fmt.Errorf("invalid --mode %q (want linear or react)", mode)
		}
		if err := a.ensureLocalModels(cmd.Context()); err != nil {
			return err
		}

		asker, err := a.agents.Get(credential)
		if errors.Is(err, engine.ErrMissingCredential) {
			return fmt.Errorf("%w: set llm.api_key, the provider's key variable, or pass --credential", err)
		}
		if err != nil {
			return err
		}

		ans := asker.Ask(agent.WithSource(cmd.Context(), "cli"), question)
		if showCode {
			for _, s := range ans.Steps {
				printSection(fmt.Sprintf("%s (%s)", s.Name, s.Elapsed.Round(time.Millisecond)), s.Output)
			}
			if ans.Code != "" {
				printSection("Code", ans.Code)
			}
		}
		fmt.Fprintln(stdout, ans.Narrative)
		if ans.Failed {
			return errors.New("the question could not be answered")
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("mode", "", "agent mode: linear or react (default from agent.mode)")
	askCmd.Flags().String("credential", "", "API key for the completion provider")
	askCmd.Flags().Bool("show-code", false, "print intermediate steps and generated code")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over communication texts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		k, _ := cmd.Flags().GetInt("k")
		if k < 0 {
			return fmt.Errorf("-k must not be negative")
		}

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		hits, err := a.searcher.Search(cmd.Context(), query, k)
		if err != nil {
			if errors.Is(err, retrieval.ErrUnavailable) {
				return fmt.Errorf("retrieval unavailable, check retrieval.embedding_mode: %w", err)
			}
			return err
		}
		fmt.Fprintln(stdout, retrieval.Format(hits))
		return nil
	},
}

func init() {
	searchCmd.Flags().IntP("k", "k", 0, "number of results (default retrieval.top_k)")
}

// --- enrich ---

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Classify every record and print the enrichment report",
	RunE: func(cmd *cobra.Command, args []string) error {
		credential, _ := cmd.Flags().GetString("credential")

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.ensureLocalModels(cmd.Context()); err != nil {
			return err
		}

		c, err := engine.NewCompleter(cmd.Context(), a.settings(credential))
		if err != nil {
			return err
		}

		start := time.Now()
		ds, err := a.data.EnsureEnriched(cmd.Context(), a.newEnricher(c))
		if err != nil {
			return err
		}
		report := ds.Enrichment()
		if report.Degraded() {
			printWarning("%d of %d records fell back to default labels", report.Unclassified, ds.Len())
		} else {
			printSuccess("Classified %d records in %s", ds.Len(), time.Since(start).Round(time.Millisecond))
		}
		return printJSON(ds.Summary())
	},
}

func init() {
	enrichCmd.Flags().String("credential", "", "API key for the completion provider")
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print summary statistics of the dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return printJSON(a.data.Current().Summary())
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect answered questions",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.store == nil {
			return errNoStorage
		}

		interactions, err := a.store.GetRecentInteractions(limit)
		if err != nil {
			return err
		}
		if len(interactions) == 0 {
			fmt.Fprintln(stdout, "No interactions found.")
			return nil
		}
		for _, ix := range interactions {
			question := ix.Question
			if len(question) > 80 {
				question = question[:80] + "..."
			}
			mark := " "
			if ix.Failed {
				mark = colorize(colorRed, "!")
			}
			fmt.Fprintf(stdout, "%s %s  %s  %-6s %s\n",
				mark,
				colorize(colorCyan, shortID(ix.ID)),
				ix.CreatedAt.Local().Format(time.DateTime),
				ix.Mode,
				question,
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.store == nil {
			return errNoStorage
		}

		ix, err := a.store.GetInteraction(args[0])
		if err != nil {
			return fmt.Errorf("interaction %s: %w", args[0], err)
		}
		return printJSON(ix)
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		keys := config.ShowAll(cfg)
		switch format {
		case "json":
			return printJSON(keys)
		case "yaml":
			enc := yaml.NewEncoder(stdout)
			defer enc.Close()
			return enc.Encode(keys)
		case "", "text":
		default:
			return fmt.Errorf("invalid --format %q (want text, yaml or json)", format)
		}
		for _, k := range keys {
			suffix := ""
			if k.FromEnv {
				suffix = " (from " + k.EnvVar + ")"
			}
			fmt.Fprintf(stdout, "  %s = %s%s\n", colorize(colorBold, k.Key), k.Value, suffix)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configShowCmd.Flags().String("format", "text", "output format: text, yaml or json")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
