// ABOUTME: Minimal fake agent backend for E2E testing; serves the ADK-style session REST API in memory.
// ABOUTME: Usage: fake-backend [-addr localhost:8000] [-forget-every 30s] [-markdown]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"google.golang.org/genai"

	"github.com/2389/relay-gateway/internal/backend"
	"github.com/2389/relay-gateway/internal/backend/backendtest"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "HTTP listen address")
	forgetEvery := flag.Duration("forget-every", 0, "drop every session on this interval to simulate backend restarts (0 disables)")
	markdown := flag.Bool("markdown", false, "reply with a markdown-formatted echo")
	flag.Parse()

	if err := run(*addr, *forgetEvery, *markdown); err != nil {
		log.Fatal(err)
	}
}

// markdownReply echoes the message inside a small markdown document.
func markdownReply(agent, message string) []backend.Event {
	text := fmt.Sprintf("**%s** received:\n\n> %s\n\n- sessions: in memory\n- tools: none", agent, message)
	return []backend.Event{{
		Author:  agent,
		Content: genai.NewContentFromText(text, genai.RoleModel),
	}}
}

func run(addr string, forgetEvery time.Duration, markdown bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var reply backendtest.ReplyFunc
	if markdown {
		reply = markdownReply
	}
	fake := backendtest.New(reply)

	if forgetEvery > 0 {
		go func() {
			ticker := time.NewTicker(forgetEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fake.ForgetAll()
					log.Printf("forgot all sessions (creates=%d runs=%d)", fake.Creates(), fake.Runs())
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           fake,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("fake backend listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	log.Println("shutting down")
	return srv.Shutdown(shutdownCtx)
}
