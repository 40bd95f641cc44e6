// duplex is a streaming CLI for OpenAI-compatible backends, speaking both
// the chat-completions and responses wire protocols.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/gabriel-vasile/mimetype"
	"gopkg.in/yaml.v3"

	"github.com/duplexai/duplex/internal/llm"
	. "github.com/duplexai/duplex/internal/logging"
	"github.com/duplexai/duplex/internal/types"
)

const version = "0.1.0"

var cli struct {
	Config string `help:"Path to the model config JSON file." default:"duplex.json" type:"path"`
	Model  string `help:"Override the model id from the config file." optional:""`
	Script string `help:"YAML script of prompts to run in order." type:"path" optional:""`
	Image  string `help:"Image file to attach to the first prompt." type:"path" optional:""`
	Debug  bool   `help:"Enable debug logging."`

	Version kong.VersionFlag `help:"Print version and exit."`

	Prompt []string `arg:"" optional:"" help:"Prompt text; omit for interactive mode."`
}

// promptScript is the YAML shape accepted by --script.
type promptScript struct {
	Prompts []string `yaml:"prompts"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("duplex"),
		kong.Description("Stream conversations to OpenAI-compatible backends."),
		kong.Vars{"version": "duplex " + version},
	)

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level})

	cfg, err := llm.LoadModelConfig(cli.Config)
	if err != nil {
		L_fatal("loading config: %v", err)
	}
	if cli.Model != "" {
		cfg.ID = cli.Model
	}
	streamer, err := llm.NewStreamer(cfg)
	if err != nil {
		L_fatal("creating streamer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var history []types.Message

	switch {
	case cli.Script != "":
		prompts, err := loadScript(cli.Script)
		if err != nil {
			L_fatal("loading script: %v", err)
		}
		for _, p := range prompts {
			if err := runTurn(ctx, streamer, &history, p); err != nil {
				L_fatal("%s", llm.FormatErrorForUser(err.Error(), llm.ClassifyError(err.Error())))
			}
		}

	case len(cli.Prompt) > 0:
		if err := runTurn(ctx, streamer, &history, strings.Join(cli.Prompt, " ")); err != nil {
			L_fatal("%s", llm.FormatErrorForUser(err.Error(), llm.ClassifyError(err.Error())))
		}

	default:
		repl(ctx, streamer, &history)
	}
}

func loadScript(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s promptScript
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(s.Prompts) == 0 {
		return nil, fmt.Errorf("script %s has no prompts", path)
	}
	return s.Prompts, nil
}

// repl reads prompts from stdin until EOF, keeping conversation history (and
// any continuation markers) across turns.
func repl(ctx context.Context, streamer *llm.Streamer, history *[]types.Message) {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		prompt := strings.TrimSpace(in.Text())
		if prompt == "" {
			continue
		}
		if prompt == "/quit" || prompt == "/exit" {
			return
		}
		if err := runTurn(ctx, streamer, history, prompt); err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintln(os.Stderr, llm.FormatErrorForUser(err.Error(), llm.ClassifyError(err.Error())))
		}
	}
}

// runTurn sends one user prompt, prints the streamed reply, and appends both
// sides to the history. The assistant message keeps the tool calls and the
// continuation marker so the next turn can resume server-side state.
func runTurn(ctx context.Context, streamer *llm.Streamer, history *[]types.Message, prompt string) error {
	userMsg, err := buildUserMessage(prompt, len(*history) == 0)
	if err != nil {
		return err
	}
	*history = append(*history, userMsg)

	assistant := types.Message{Role: types.RoleAssistant}
	cb := &llm.Callbacks{
		OnThinking: func(id, text string) {
			L_debug("thinking: %s", text)
		},
		OnToolCall: func(call llm.ToolCall) {
			fmt.Printf("\n[tool call] %s(%s)\n", call.Name, call.Input)
		},
		OnData: func(mimeType string, data []byte) {
			assistant.Parts = append(assistant.Parts, types.DataPart(mimeType, data))
		},
		OnWarning: func(msg string) {
			fmt.Fprintln(os.Stderr, "warning: "+msg)
		},
	}

	resp, err := streamer.Stream(ctx, *history, nil, func(chunk string) {
		fmt.Print(chunk)
	}, cb)
	if err != nil {
		return err
	}
	fmt.Println()

	if resp.Text != "" {
		assistant.Parts = append([]types.Part{types.TextPart(resp.Text)}, assistant.Parts...)
	}
	for _, call := range resp.ToolCalls {
		assistant.Parts = append(assistant.Parts, types.ToolCallPart(call.ID, call.Name, call.Input))
	}
	*history = append(*history, assistant)

	if resp.Usage != nil {
		L_debug("usage: in=%d out=%d reasoning=%d cached=%d",
			resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.ReasoningTokens, resp.Usage.CachedTokens)
	}
	return nil
}

// buildUserMessage attaches --image to the first prompt of the session, with
// the content type sniffed from the file bytes.
func buildUserMessage(prompt string, first bool) (types.Message, error) {
	msg := types.UserText(prompt)
	if !first || cli.Image == "" {
		return msg, nil
	}
	data, err := os.ReadFile(cli.Image)
	if err != nil {
		return msg, fmt.Errorf("read image: %w", err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return msg, fmt.Errorf("%s is %s, not an image", cli.Image, mt.String())
	}
	msg.Parts = append(msg.Parts, types.DataPart(mt.String(), data))
	return msg, nil
}
