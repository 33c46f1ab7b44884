// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/peterh/liner"

	"github.com/jeranaias/docchat/internal/chat"
)

// runREPL drives the orchestrator from an interactive terminal. Commands
// start with a colon; anything else is a question.
func runREPL(ctx context.Context, a *app) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	sessionKey := uuid.New().String()
	document := ""

	fmt.Println("docchat interactive session. :help for commands, :quit to leave.")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		prompt := "> "
		if document != "" {
			prompt = document + "> "
		}
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, ":") {
			if quit := replCommand(ctx, a, input, &document); quit {
				return nil
			}
			continue
		}

		events := a.orch.Ask(ctx, chat.Request{
			SessionKey: sessionKey,
			Document:   document,
			Query:      input,
		})
		for ev := range events {
			if ev.Kind == chat.EventToken {
				fmt.Print(ev.Token)
			}
		}
		fmt.Println()
	}
}

func replCommand(ctx context.Context, a *app, input string, document *string) (quit bool) {
	fields := strings.Fields(input)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true

	case ":help":
		fmt.Println(`commands:
  :doc <name>   answer questions from this document
  :doc          clear the document selection
  :docs         list indexed documents
  :usage        show governor counters
  :quit         leave`)

	case ":doc":
		if len(fields) > 1 {
			*document = fields[1]
			fmt.Printf("answering from %s\n", *document)
		} else {
			*document = ""
			fmt.Println("document selection cleared")
		}

	case ":docs":
		docs, err := a.indexer.ListDocuments(ctx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		if len(docs) == 0 {
			fmt.Println("no documents indexed")
			break
		}
		for _, d := range docs {
			fmt.Printf("  %s (%s)\n", d.Name, strings.Join(d.Languages, ", "))
		}

	case ":usage":
		snap := a.gov.Snapshot()
		fmt.Printf("cost today: $%.4f | requests this minute: %d | tokens: %d prompt, %d completion, %d embedding\n",
			snap.DailyCostUSD, snap.RequestsInWindow,
			snap.PromptTokens, snap.CompletionTokens, snap.EmbeddingTokens)

	default:
		fmt.Printf("unknown command %s (:help for commands)\n", fields[0])
	}
	return false
}
