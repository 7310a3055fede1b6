package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/chat"
	"github.com/nickcecere/ragchat/internal/ui"
)

var (
	chatConversation int64
	chatModel        string
	chatDocs         []int64
	chatMemory       bool
	chatRender       bool
	chatJSON         bool
)

// chatCmd sends one message and streams the reply.
var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message and stream the reply",
	Long: `Send one message to a conversation and stream the model's reply.

The reply is grounded in the user's documents and, when memory is enabled,
in related messages from their other conversations. A new conversation is
created when --conversation is omitted. The provider is chosen from the
model name; a model prefixed with "ollama/" runs on the local Ollama server.

Examples:
  ragchat chat --user 1 "summarize the uploaded contract"
  ragchat chat --user 1 --conversation 3 --model claude-3-5-sonnet-latest "and the termination clause?"
  ragchat chat --user 1 --model ollama/llama3 --docs 12,13 --render "compare these two"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	addUserFlag(chatCmd)
	chatCmd.Flags().Int64VarP(&chatConversation, "conversation", "c", 0, "conversation id (default: start a new one)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model name (default from chat.default_model)")
	chatCmd.Flags().Int64SliceVar(&chatDocs, "docs", nil, "only retrieve from these document ids")
	chatCmd.Flags().BoolVar(&chatMemory, "memory", true, "use past conversations as context (overrides memory.enabled)")
	chatCmd.Flags().BoolVarP(&chatRender, "render", "r", false, "render the finished reply as markdown")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print turn events as JSON lines")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	convID := chatConversation
	if convID == 0 {
		conv, err := a.Chat.NewConversation(ctx, userID)
		if err != nil {
			return err
		}
		convID = conv.ID
		log.Debug("Started conversation", "conversation_id", convID)
	}

	req := chat.TurnRequest{
		UserID:         userID,
		ConversationID: convID,
		Message:        strings.Join(args, " "),
		Model:          chatModel,
		DocumentIDs:    chatDocs,
	}
	if cmd.Flags().Changed("memory") {
		req.MemoryEnabled = &chatMemory
	}

	emit := terminalEmit()
	if chatJSON {
		enc := json.NewEncoder(os.Stdout)
		emit = func(ev chat.Event) error { return enc.Encode(ev) }
	}

	res, err := a.Chat.Turn(ctx, req, emit)
	if err != nil {
		if errors.Is(err, chat.ErrCredentialMissing) {
			return fmt.Errorf("%w; add one with 'ragchat keys set --user %d <provider> <key>'", err, userID)
		}
		return err
	}
	if chatJSON {
		return nil
	}

	if chatRender {
		out, err := renderMarkdown(res.Reply)
		if err != nil {
			log.Warn("Failed to render reply", "error", err)
			out = res.Reply + "\n"
		}
		fmt.Print(out)
	} else {
		fmt.Println()
	}

	fmt.Println()
	footer := fmt.Sprintf("conversation %d · message %d · %s", convID, res.AssistantMessageID, res.Provider)
	if res.Title != "" {
		footer += " · " + res.Title
	}
	if res.Partial {
		footer += " · interrupted"
	}
	fmt.Println(ui.Dim.Render(footer))
	return nil
}

// terminalEmit streams tokens to stdout unless the reply is rendered at the end.
func terminalEmit() chat.Emit {
	return func(ev chat.Event) error {
		switch ev.Type {
		case chat.EventTurnStarted:
			if !chatRender {
				fmt.Print(ui.Speaker.Render("assistant") + " ")
			}
		case chat.EventToken:
			if !chatRender {
				fmt.Print(ev.Text)
			}
		case chat.EventTurnFailed:
			fmt.Fprintln(os.Stderr, ui.Error.Render("turn failed: "+ev.Reason))
		}
		return nil
	}
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
