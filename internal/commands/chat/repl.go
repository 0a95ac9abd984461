// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tombee/relay/internal/bot"
	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/log"
)

// maxLineBytes bounds one input line.
const maxLineBytes = 1 << 20

// Handler answers messages and slash commands. *bot.Processor implements it.
type Handler interface {
	Process(ctx context.Context, chatID, text string) (string, error)
	HandleCommand(ctx context.Context, chatID, text string) ([]string, error)
}

// REPL reads lines from In and writes replies to Out.
type REPL struct {
	Chat   Handler
	ChatID string
	In     io.Reader
	Out    io.Writer

	// Interactive prints the prompt and banner.
	Interactive bool

	// Spinner runs while the model is answering. Optional.
	Spinner *shared.Spinner

	Logger *slog.Logger
}

// Banner prints the session header.
func (r *REPL) Banner(model string) {
	fmt.Fprintln(r.Out, shared.Header.Render("relay chat"))
	fmt.Fprintf(r.Out, "%s %s  %s %s\n",
		shared.RenderLabel("chat:"), r.ChatID,
		shared.RenderLabel("model:"), model)
	fmt.Fprintln(r.Out, shared.Muted.Render("Type /help for commands, /quit to exit."))
	fmt.Fprintln(r.Out)
}

// Run processes lines until EOF, /quit or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.In)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.Out)
			return nil
		case err := <-readErr:
			if r.Interactive {
				fmt.Fprintln(r.Out)
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				return nil
			}
			if err := r.Send(ctx, line); err != nil {
				return err
			}
		}
	}
}

// Send handles one line. Failures of a single message are reported inline;
// only output errors are returned.
func (r *REPL) Send(ctx context.Context, text string) error {
	var (
		replies []string
		err     error
	)
	if bot.IsCommand(text) {
		replies, err = r.Chat.HandleCommand(ctx, r.ChatID, text)
	} else {
		var reply string
		if r.Spinner != nil {
			r.Spinner.Start("thinking")
		}
		reply, err = r.Chat.Process(ctx, r.ChatID, text)
		if r.Spinner != nil {
			r.Spinner.Stop()
		}
		replies = []string{reply}
	}

	if err != nil {
		r.reportError(err)
		return nil
	}
	for _, reply := range replies {
		if _, err := fmt.Fprintf(r.Out, "%s %s\n", shared.Reply.Render("relay>"), reply); err != nil {
			return err
		}
	}
	return nil
}

func (r *REPL) reportError(err error) {
	var rle *bot.RateLimitError
	if errors.As(err, &rle) {
		fmt.Fprintln(r.Out, shared.RenderWarn(fmt.Sprintf("Slow down: try again in %ds.", rle.RetryAfterSeconds())))
		return
	}
	log.OrDefault(r.Logger).Debug("message failed", slog.String(log.ChatIDKey, r.ChatID), log.Error(err))
	fmt.Fprintln(r.Out, shared.RenderError(err.Error()))
}

func (r *REPL) prompt() {
	if r.Interactive {
		fmt.Fprint(r.Out, shared.Prompt.Render("you>")+" ")
	}
}
