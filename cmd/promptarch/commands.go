package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptarchitect/studio/internal/config"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/storage"
)

// readInput joins args, or reads stdin when there are none or the only
// arg is "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// --- engineer ---

var engineerCmd = &cobra.Command{
	Use:   "engineer [idea...]",
	Short: "Engineer a structured prompt from a rough idea",
	Long: `Engineer a structured CO-STAR prompt from a rough idea.

Examples:
  promptarch engineer "Write a pitch for a B2B SaaS"
  promptarch engineer --provider gemini "Plan a team offsite"
  echo "Summarize meeting notes" | promptarch engineer --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		providerName, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		parent, _ := cmd.Flags().GetString("parent")
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		res, err := c.Engineer(cmd.Context(), engineer.Request{
			UserInput: input,
			Provider:  providerName,
			Model:     model,
			ParentID:  parent,
		})
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func printResult(w io.Writer, res prompt.Result) {
	fmt.Fprintln(w, res.RefinedPrompt)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Why this works:"), res.WhyThisWorks)
	if len(res.SuggestedVariables) > 0 {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Variables:"), strings.Join(res.SuggestedVariables, ", "))
	}
	if res.Costar != nil {
		fmt.Fprintln(w, colorize(colorBold, "CO-STAR:"))
		for _, f := range []struct{ label, val string }{
			{"Context", res.Costar.Context},
			{"Objective", res.Costar.Objective},
			{"Style", res.Costar.Style},
			{"Tone", res.Costar.Tone},
			{"Audience", res.Costar.Audience},
			{"Response", res.Costar.Response},
		} {
			fmt.Fprintf(w, "  %-10s %s\n", f.label+":", f.val)
		}
	}
	meta := res.Provider + "/" + res.Model
	if res.ID != "" {
		meta += "  id " + res.ID
	}
	fmt.Fprintln(w, colorize(colorDim, meta))
}

func init() {
	engineerCmd.Flags().String("provider", "", "gemini or ollama")
	engineerCmd.Flags().String("model", "", "model from the provider's allow-list")
	engineerCmd.Flags().String("parent", "", "history id this prompt is a variation of")
	engineerCmd.Flags().Bool("json", false, "print the raw JSON result")
}

// --- title ---

var titleCmd = &cobra.Command{
	Use:   "title [text...]",
	Short: "Summarize text as a 3-6 word title",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		providerName, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		title, err := c.Title(cmd.Context(), input, providerName, model)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), title)
		return nil
	},
}

func init() {
	titleCmd.Flags().String("provider", "", "gemini or ollama")
	titleCmd.Flags().String("model", "", "model from the provider's allow-list")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models each configured provider allows",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		cat, err := c.Models(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, p := range cat {
			name := string(p.Provider)
			if p.Default {
				name += " (default)"
			}
			fmt.Fprintln(w, colorize(colorBold, name))
			for _, m := range p.Models {
				marker := " "
				if m == p.DefaultModel {
					marker = "*"
				}
				fmt.Fprintf(w, "  %s %s\n", marker, m)
			}
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage engineered prompts",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent prompts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		page, err := c.ListHistory(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), page)
		}
		if len(page.Items) == 0 {
			printWarning("No history yet")
			return nil
		}
		printHistoryItems(cmd.OutOrStdout(), page.Items)
		return nil
	},
}

func printHistoryItems(w io.Writer, items []storage.HistoryItem) {
	for _, it := range items {
		star := " "
		if it.Favorite {
			star = "★"
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", star, it.ID, it.CreatedAt.Local().Format("2006-01-02 15:04"), itemLabel(it))
	}
}

// itemLabel is the custom title, or the start of the original input.
func itemLabel(it storage.HistoryItem) string {
	if it.CustomTitle != "" {
		return it.CustomTitle
	}
	label := strings.Join(strings.Fields(it.OriginalInput), " ")
	if r := []rune(label); len(r) > 60 {
		label = string(r[:60]) + "..."
	}
	return label
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		item, err := c.GetHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), item)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Input:"), item.OriginalInput)
		if item.ParentID != "" {
			fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Variation of:"), item.ParentID)
		}
		fmt.Fprintln(w)
		printResult(w, item.Result)
		return nil
	},
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Set a prompt's title",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		item, err := c.RenameHistory(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printSuccess("Renamed %s to %q", item.ID, item.CustomTitle)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := c.DeleteHistory(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every prompt that is not a favorite",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete all non-favorite history. Use --confirm to proceed.")
			return nil
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := c.ClearHistory(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Deleted %d prompts (favorites kept)", n)
		return nil
	},
}

var historyLineageCmd = &cobra.Command{
	Use:   "lineage <id>",
	Short: "Show where a prompt came from and its variations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		l, err := c.Lineage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if l.Parent != nil {
			fmt.Fprintln(w, colorize(colorBold, "Derived from:"))
			printHistoryItems(w, []storage.HistoryItem{*l.Parent})
		} else if l.Item.ParentID != "" {
			fmt.Fprintf(w, "%s %s (deleted)\n", colorize(colorBold, "Derived from:"), l.Item.ParentID)
		}
		fmt.Fprintln(w, colorize(colorBold, "This prompt:"))
		printHistoryItems(w, []storage.HistoryItem{l.Item})
		if len(l.Children) > 0 {
			fmt.Fprintln(w, colorize(colorBold, "Variations:"))
			printHistoryItems(w, l.Children)
		}
		if len(l.Siblings) > 0 {
			fmt.Fprintln(w, colorize(colorBold, "Other variations of the parent:"))
			printHistoryItems(w, l.Siblings)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 10, "number of items (max 100)")
	historyListCmd.Flags().Int("offset", 0, "items to skip")
	historyListCmd.Flags().Bool("json", false, "print raw JSON")
	historyShowCmd.Flags().Bool("json", false, "print raw JSON")
	historyClearCmd.Flags().Bool("confirm", false, "confirm clearing history")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyRenameCmd, historyDeleteCmd, historyClearCmd, historyLineageCmd)
}

// --- favorites ---

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "Manage favorite prompts",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorites, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		favs, err := c.ListFavorites(cmd.Context())
		if err != nil {
			return err
		}
		if len(favs) == 0 {
			printWarning("No favorites yet")
			return nil
		}
		items := make([]storage.HistoryItem, 0, len(favs))
		for _, f := range favs {
			items = append(items, f.Item)
		}
		printHistoryItems(cmd.OutOrStdout(), items)
		return nil
	},
}

var favoritesAddCmd = &cobra.Command{
	Use:   "add <history-id>",
	Short: "Mark a prompt as favorite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := c.AddFavorite(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Added %s to favorites", args[0])
		return nil
	},
}

var favoritesRemoveCmd = &cobra.Command{
	Use:   "remove <history-id>",
	Short: "Unmark a favorite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := c.RemoveFavorite(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Removed %s from favorites", args[0])
		return nil
	},
}

func init() {
	favoritesCmd.AddCommand(favoritesListCmd, favoritesAddCmd, favoritesRemoveCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update your saved defaults",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := c.GetSettings(cmd.Context())
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), st)
		return nil
	},
}

func printSettings(w io.Writer, st storage.Settings) {
	orDefault := func(s string) string {
		if s == "" {
			return "(server default)"
		}
		return s
	}
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, "provider:"), orDefault(st.DefaultProvider))
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, "model:"), orDefault(st.DefaultModel))
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, "theme:"), st.Theme)
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update your settings",
	Long: `Update your settings. Only the flags you pass change.

Examples:
  promptarch settings set --provider gemini --model gemini-2.5-pro
  promptarch settings set --theme light
  promptarch settings set --model ""   # back to the server default`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("provider") && !flags.Changed("model") && !flags.Changed("theme") {
			return fmt.Errorf("nothing to set: pass --provider, --model or --theme")
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := c.GetSettings(cmd.Context())
		if err != nil {
			return err
		}
		if flags.Changed("provider") {
			st.DefaultProvider, _ = flags.GetString("provider")
		}
		if flags.Changed("model") {
			st.DefaultModel, _ = flags.GetString("model")
		}
		if flags.Changed("theme") {
			st.Theme, _ = flags.GetString("theme")
		}

		st, err = c.PutSettings(cmd.Context(), st)
		if err != nil {
			return err
		}
		printSuccess("Settings saved")
		printSettings(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	settingsSetCmd.Flags().String("provider", "", "default provider (gemini or ollama)")
	settingsSetCmd.Flags().String("model", "", "default model")
	settingsSetCmd.Flags().String("theme", "", "light, dark or system")
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update local configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys are written to " + config.SecretsFilePath() +
		",\nthe rest to " + config.ConfigFilePath() + ".\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		if isSecretKey(key) {
			printSuccess("Set %s (stored in %s)", key, config.SecretsFilePath())
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func isSecretKey(key string) bool {
	for _, k := range config.ShowAll(config.Config{}) {
		if k.Key == key {
			return k.Secret
		}
	}
	return false
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
