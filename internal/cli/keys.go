package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/llm"
	"github.com/nickcecere/ragchat/internal/ui"
)

// keysCmd manages per-user provider API keys.
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage a user's provider API keys",
	Long: `Store, list and delete the API keys a user's chats are billed to. Keys
are encrypted with security.secret_key before they are stored.

Providers: openai, anthropic, google, grok. Ollama needs no key.

Examples:
  ragchat keys set --user 1 openai sk-...
  ragchat keys list --user 1
  ragchat keys delete --user 1 openai`,
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> <key>",
	Short: "Store or replace a key",
	Args:  cobra.ExactArgs(2),
	RunE:  runKeysSet,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with a stored key",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysDelete,
}

func init() {
	for _, c := range []*cobra.Command{keysSetCmd, keysListCmd, keysDeleteCmd} {
		c.Flags().Int64VarP(&userID, "user", "u", 0, "user id")
		_ = c.MarkFlagRequired("user")
	}
	keysCmd.AddCommand(keysSetCmd, keysListCmd, keysDeleteCmd)
}

func runKeysSet(cmd *cobra.Command, args []string) error {
	p, err := llm.ParseProvider(args[0])
	if err != nil {
		return err
	}
	if !llm.RequiresKey(p) {
		return fmt.Errorf("%s does not use an API key", p)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Credentials.Set(ctx, userID, string(p), args[1]); err != nil {
		return err
	}
	fmt.Printf("%s %s key for user %d\n", ui.Success.Render("Stored"), p, userID)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := a.Credentials.Providers(ctx, userID)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		fmt.Println("No keys stored.")
		return nil
	}
	for _, p := range providers {
		fmt.Println("  " + p)
	}
	return nil
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	p, err := llm.ParseProvider(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.Credentials.Delete(ctx, userID, string(p))
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Printf("No %s key stored for user %d\n", p, userID)
		return nil
	}
	fmt.Printf("%s %s key for user %d\n", ui.Success.Render("Deleted"), p, userID)
	return nil
}
