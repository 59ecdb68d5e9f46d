package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antonets/toolbridge/internal/config"
	"github.com/antonets/toolbridge/internal/generator"
	"github.com/antonets/toolbridge/internal/shell"
)

type toolSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
	MemoryMode    string `json:"memoryMode"`
	Retention     string `json:"retention"`
	ThemeKey      string `json:"themeKey"`
	PublishedSlug string `json:"publishedSlug"`
	UpdatedAt     string `json:"updatedAt"`
}

// --- forge ---

var forgeCmd = &cobra.Command{
	Use:   "forge <prompt>",
	Short: "Generate a micro-tool from a prompt and save it",
	Long: `Generate a micro-tool from a prompt and save it to the local catalog.

Examples:
  toolbridge forge "a pomodoro timer with long breaks"
  toolbridge forge --from <tool-id> "add a sound when the timer ends"
  toolbridge forge --memory device --retention indefinite "a reading list"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		from, _ := cmd.Flags().GetString("from")
		title, _ := cmd.Flags().GetString("title")
		themeKey, _ := cmd.Flags().GetString("theme")
		colorMode, _ := cmd.Flags().GetString("color-mode")
		memoryMode, _ := cmd.Flags().GetString("memory")
		retention, _ := cmd.Flags().GetString("retention")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Generator.BaseURL == "" {
			return fmt.Errorf("no generator configured (set generator.base_url)")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// Regeneration starts from the stored bundle.
		var previous *shell.Bundle
		toolID := ""
		if from != "" {
			resp, err := client.get(cmd.Context(), "/tools/"+from)
			if err != nil {
				return err
			}
			var existing struct {
				ID    string `json:"id"`
				Title string `json:"title"`
				HTML  string `json:"html"`
				CSS   string `json:"css"`
				JS    string `json:"js"`
			}
			if err := decodeJSON(resp, &existing); err != nil {
				return err
			}
			previous = &shell.Bundle{HTML: existing.HTML, CSS: existing.CSS, JS: existing.JS}
			toolID = existing.ID
			if title == "" {
				title = existing.Title
			}
		}

		printStep("Generating...")
		gen := generator.NewClient(cfg.Generator.BaseURL, cfg.Generator.APIKey)
		bundle, err := gen.Generate(cmd.Context(), prompt, previous)
		if err != nil {
			return fmt.Errorf("generating tool: %w", err)
		}

		if title == "" {
			title = prompt
			if len(title) > 60 {
				title = title[:60]
			}
		}

		req := map[string]any{
			"id":         toolID,
			"title":      title,
			"summary":    prompt,
			"html":       bundle.HTML,
			"css":        bundle.CSS,
			"js":         bundle.JS,
			"themeKey":   themeKey,
			"colorMode":  colorMode,
			"memoryMode": memoryMode,
			"retention":  retention,
		}
		resp, err := client.post(cmd.Context(), "/tools", req)
		if err != nil {
			return err
		}
		var saved toolSummary
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}

		printSuccess("Saved tool %s (%s)", saved.ID, saved.Title)
		fmt.Println(saved.ID)
		return nil
	},
}

func init() {
	forgeCmd.Flags().String("from", "", "existing tool id to regenerate from")
	forgeCmd.Flags().String("title", "", "title for the tool")
	forgeCmd.Flags().String("theme", "", "theme key (default: slate)")
	forgeCmd.Flags().String("color-mode", "light", "color mode: light or dark")
	forgeCmd.Flags().String("memory", "device", "memory mode: none, device, or account")
	forgeCmd.Flags().String("retention", "indefinite", "memory retention: indefinite, session, or custom")
}

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render <tool-id>",
	Short: "Render a tool's shell document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/t/"+args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}
		if _, err := io.Copy(writer, resp.Body); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Wrote %s", output)
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- publish ---

var publishCmd = &cobra.Command{
	Use:   "publish <tool-id>",
	Short: "Publish a tool as a standalone page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug, _ := cmd.Flags().GetString("slug")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{}
		if slug != "" {
			body["slug"] = slug
		}
		resp, err := client.post(cmd.Context(), "/tools/"+args[0]+"/publish", body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued publish as %q", result["slug"])
		fmt.Printf("%s/%s/\n", strings.TrimRight(cfg.Publish.BaseURL, "/"), result["slug"])
		return nil
	},
}

func init() {
	publishCmd.Flags().String("slug", "", "public slug (default: derived from the title)")
}

// --- tools ---

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Manage the tool catalog",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/tools?limit=%d", limit))
		if err != nil {
			return err
		}
		var tools []toolSummary
		if err := decodeJSON(resp, &tools); err != nil {
			return err
		}

		if len(tools) == 0 {
			fmt.Println("No tools found.")
			return nil
		}
		for _, t := range tools {
			marker := " "
			if t.PublishedSlug != "" {
				marker = colorize(colorGreen, "●")
			}
			id := t.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s %s  %-10s %s\n",
				marker,
				colorize(colorCyan, id),
				t.MemoryMode,
				t.Title,
			)
		}
		return nil
	},
}

var toolsShowCmd = &cobra.Command{
	Use:   "show <tool-id>",
	Short: "Show a single tool as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tools/"+args[0])
		if err != nil {
			return err
		}
		var tool any
		if err := decodeJSON(resp, &tool); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tool)
	},
}

var toolsDeleteCmd = &cobra.Command{
	Use:   "delete <tool-id>",
	Short: "Delete a tool and its memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/tools/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted tool %s", args[0])
		return nil
	},
}

func init() {
	toolsListCmd.Flags().Int("limit", 20, "maximum number of tools to list")
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsShowCmd)
	toolsCmd.AddCommand(toolsDeleteCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit a tool's device-scoped memory",
}

var memoryListCmd = &cobra.Command{
	Use:   "list <tool-id>",
	Short: "List memory entries for a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tools/"+args[0]+"/memory")
		if err != nil {
			return err
		}
		var result struct {
			Memories []struct {
				Key       string          `json:"memoryKey"`
				Value     json.RawMessage `json:"memoryValue"`
				UpdatedAt string          `json:"updatedAt"`
			} `json:"memories"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Memories) == 0 {
			fmt.Println("No memory entries found.")
			return nil
		}
		for _, m := range result.Memories {
			fmt.Printf("%s = %s  %s\n",
				colorize(colorBold, m.Key),
				string(m.Value),
				colorize(colorCyan, m.UpdatedAt),
			)
		}
		return nil
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <tool-id> <key>",
	Short: "Read one memory value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tools/"+args[0]+"/memory")
		if err != nil {
			return err
		}
		var result struct {
			Memories []struct {
				Key   string          `json:"memoryKey"`
				Value json.RawMessage `json:"memoryValue"`
			} `json:"memories"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, m := range result.Memories {
			if m.Key == args[1] {
				fmt.Println(string(m.Value))
				return nil
			}
		}
		fmt.Println("null")
		return nil
	},
}

var memorySetCmd = &cobra.Command{
	Use:   "set <tool-id> <key> <value>",
	Short: "Store one memory value (JSON, or a plain string)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := args[2]
		if !json.Valid([]byte(value)) {
			encoded, err := json.Marshal(value)
			if err != nil {
				return err
			}
			value = string(encoded)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"key":   args[1],
			"value": json.RawMessage(value),
		}
		resp, err := client.post(cmd.Context(), "/tools/"+args[0]+"/memory", req)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s", args[1])
		return nil
	},
}

var memoryRemoveCmd = &cobra.Command{
	Use:   "remove <tool-id> <key>",
	Short: "Remove one memory key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/tools/"+args[0]+"/memory/"+url.PathEscape(args[1]))
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode != 404 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Removed %s", args[1])
		return nil
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear <tool-id>",
	Short: "Delete all memory entries for a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL memory for the tool. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/tools/"+args[0]+"/memory")
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Memory cleared")
		return nil
	},
}

func init() {
	memoryClearCmd.Flags().Bool("confirm", false, "confirm memory clear")
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memorySetCmd)
	memoryCmd.AddCommand(memoryRemoveCmd)
	memoryCmd.AddCommand(memoryClearCmd)
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
