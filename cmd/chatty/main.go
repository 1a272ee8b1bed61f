package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/client"
	"github.com/matheus3301/chatty/internal/lock"
	"github.com/matheus3301/chatty/internal/logging"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/send"
	"github.com/matheus3301/chatty/internal/session"
	"github.com/matheus3301/chatty/internal/status"
	syncengine "github.com/matheus3301/chatty/internal/sync"
	"go.uber.org/zap"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

func main() {
	serverFlag := flag.String("server", "http://localhost:3000", "chat server base URL")
	flag.Parse()

	if err := run(*serverFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(serverURL string) error {
	if err := session.EnsureDir(); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	// One client per state dir: concurrent token refreshes would
	// clobber each other's cached token.
	lk, err := lock.Acquire(session.BaseDir())
	if err != nil {
		return err
	}
	defer lk.Release()

	logger, err := logging.New(session.LogPath())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	api := client.NewAPI(serverURL)
	tokenPath := session.TokenPath()
	cached, _ := os.ReadFile(tokenPath)

	loginCtx, cancelLogin := context.WithTimeout(context.Background(), 15*time.Second)
	creds, err := api.Login(loginCtx, strings.TrimSpace(string(cached)))
	cancelLogin()
	if err != nil {
		return err
	}
	if err := os.WriteFile(tokenPath, []byte(creds.Token), 0o600); err != nil {
		logger.Warn("could not cache token", zap.Error(err))
	}
	fmt.Printf("logged in as %s (@%s)\n", creds.User.DisplayName, creds.User.Username)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New()
	machine := status.NewMachine(b)
	engine := syncengine.NewEngine(api, b, logger)
	engine.Start(ctx)
	defer engine.Stop()

	pipeline := send.NewPipeline(engine, api, api, b, creds.User, logger)
	rt := client.NewRealtime(serverURL, api, machine, b, logger)

	go supervise(ctx, rt, machine, api, tokenPath, logger)
	go printEvents(ctx, b, creds.User)

	repl(ctx, engine, pipeline, api, creds.User)
	return nil
}

// supervise keeps the realtime channel alive: reconnect with backoff
// on drops, re-login when the handshake was rejected (an expired
// token), give up only when the context ends.
func supervise(ctx context.Context, rt *client.Realtime, machine *status.Machine, api *client.API, tokenPath string, logger *zap.Logger) {
	backoff := minBackoff
	for ctx.Err() == nil {
		started := time.Now()
		err := rt.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("realtime session ended", zap.Error(err))
		}
		if time.Since(started) > time.Minute {
			backoff = minBackoff
		}

		if machine.Current() == status.Errored {
			// Handshake rejection. A fresh login issues a new token and
			// the same identity when the account still exists.
			loginCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			creds, loginErr := api.Login(loginCtx, api.Token())
			cancel()
			if loginErr != nil {
				logger.Error("re-login failed", zap.Error(loginErr))
			} else {
				os.WriteFile(tokenPath, []byte(creds.Token), 0o600)
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// printEvents renders bus activity on the terminal.
func printEvents(ctx context.Context, b *bus.Bus, self model.UserDetails) {
	events, unsub := b.Subscribe(128, "conn.", "sync.", "send.", "push.")
	defer unsub()

	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case "conn.status_changed":
				change, ok := evt.Payload.(status.StatusChange)
				if !ok {
					continue
				}
				if change.Reason != "" {
					fmt.Printf("* connection: %s (%s)\n", change.To, change.Reason)
				} else {
					fmt.Printf("* connection: %s\n", change.To)
				}
			case "sync.loading":
				if loading, _ := evt.Payload.(bool); loading {
					fmt.Println("* syncing...")
				} else {
					fmt.Println("* up to date")
				}
			case "sync.load_failed":
				fmt.Printf("* sync failed: %v\n", evt.Payload)
			case "push.message":
				env, ok := evt.Payload.(model.Envelope)
				if !ok || env.SenderID == self.ID {
					continue
				}
				fmt.Printf("[%s] %s\n", env.SenderDisplayName, env.Body)
			case "send.ai_chunk":
				if chunk, ok := evt.Payload.(string); ok {
					fmt.Print(chunk)
				}
			case "send.failed":
				fmt.Printf("* send failed (id %v): /retry or /discard\n", evt.Payload)
			}
		case <-ctx.Done():
			return
		}
	}
}

const replHelp = `commands:
  /peers              list recent conversations
  /search <query>     find users
  /to <username>      talk to a user
  /ai                 talk to the AI tutor
  /history            show the current conversation
  /retry <id>         retry a failed send
  /discard <id>       discard a failed send
  /quit               exit
anything else is sent to the current target`

func repl(ctx context.Context, engine *syncengine.Engine, pipeline *send.Pipeline, api *client.API, self model.UserDetails) {
	fmt.Println(replHelp)
	target := model.UserDetails{}

	scanner := bufio.NewScanner(os.Stdin)
	for prompt(target); scanner.Scan(); prompt(target) {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			return
		case "/help":
			fmt.Println(replHelp)
		case "/peers":
			for _, entry := range engine.Recents() {
				fmt.Printf("  @%-20s %s\n", entry.Counterpart.Username, entry.Message.Body)
			}
		case "/search":
			users, err := api.SearchUsers(ctx, arg)
			if err != nil {
				fmt.Printf("search failed: %v\n", err)
				continue
			}
			for _, u := range users {
				fmt.Printf("  @%s (%s)\n", u.Username, u.DisplayName)
			}
		case "/to":
			u, err := resolvePeer(ctx, engine, api, strings.TrimPrefix(arg, "@"))
			if err != nil {
				fmt.Println(err)
				continue
			}
			target = u
		case "/ai":
			target = model.UserDetails{ID: model.AITarget, DisplayName: "tutor"}
		case "/history":
			printHistory(engine, self, target)
		case "/retry":
			if err := pipeline.Retry(ctx, arg); err != nil {
				fmt.Println(err)
			}
		case "/discard":
			if err := pipeline.Discard(arg); err != nil {
				fmt.Println(err)
			}
		default:
			if target.ID == "" {
				fmt.Println("no target: use /to <username> or /ai")
				continue
			}
			if _, err := pipeline.Send(ctx, target, line); err != nil {
				fmt.Printf("not sent: %v\n", err)
			}
			if target.ID == model.AITarget {
				fmt.Println()
			}
		}
	}
}

func prompt(target model.UserDetails) {
	if target.ID == "" {
		fmt.Print("> ")
		return
	}
	if target.ID == model.AITarget {
		fmt.Print("ai> ")
		return
	}
	fmt.Printf("@%s> ", target.Username)
}

// resolvePeer finds a conversation target by username, preferring
// known counterparts over a server search.
func resolvePeer(ctx context.Context, engine *syncengine.Engine, api *client.API, username string) (model.UserDetails, error) {
	for _, entry := range engine.Recents() {
		if entry.Counterpart.Username == username {
			return entry.Counterpart, nil
		}
	}
	users, err := api.SearchUsers(ctx, username)
	if err != nil {
		return model.UserDetails{}, fmt.Errorf("search failed: %w", err)
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	if len(users) == 1 {
		return users[0], nil
	}
	return model.UserDetails{}, fmt.Errorf("no user named %q", username)
}

func printHistory(engine *syncengine.Engine, self, target model.UserDetails) {
	if target.ID == model.AITarget {
		for _, turn := range engine.AIThread() {
			name := "you"
			if turn.ModelName != nil {
				name = *turn.ModelName
			}
			fmt.Printf("  %s: %s\n", name, turn.Body)
		}
		return
	}
	_, messages, ok := engine.Timeline(target.ID)
	if !ok {
		fmt.Println("no history yet")
		return
	}
	for _, m := range messages {
		name := target.DisplayName
		if m.SenderID == self.ID {
			name = "you"
		}
		suffix := ""
		switch m.Status {
		case model.StatusSending:
			suffix = " (sending)"
		case model.StatusFailed:
			suffix = fmt.Sprintf(" (FAILED, id %s)", m.ID)
		}
		fmt.Printf("  %s: %s%s\n", name, m.Body, suffix)
	}
}
