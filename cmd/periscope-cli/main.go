// ABOUTME: Dev client for exercising a running periscope server
// ABOUTME: Sends spoken commands, confirms actions, and tails notifications

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/periscope-dev/periscope/internal/auth"
	"github.com/periscope-dev/periscope/internal/command"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "say":
		err = runSay(ctx, os.Args[2:])
	case "confirm":
		err = runConfirm(ctx, os.Args[2:])
	case "notifications":
		err = runNotifications(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: periscope-cli <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  say <text>       Send a spoken command")
	fmt.Println("  confirm <token>  Confirm a pending action")
	fmt.Println("  notifications    Tail notifications")
	fmt.Println("  token            Generate a dev JWT")
}

type client struct {
	base string
	user string
	http *http.Client
}

func commonFlags(fs *flag.FlagSet) (base, user *string) {
	base = fs.String("server", envOr("PERISCOPE_SERVER", "http://localhost:8080"), "server base URL")
	user = fs.String("user", envOr("PERISCOPE_USER", "dev-user"), "user id (dev auth)")
	return base, user
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response (%d): %w", resp.StatusCode, err)
		}
	}
	return nil
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runSay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	base, user := commonFlags(fs)
	sessionID := fs.String("session", envOr("PERISCOPE_SESSION", "cli-session"), "session id")
	profile := fs.String("profile", "", "response profile override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("say requires the command text")
	}

	text := ""
	for i, a := range fs.Args() {
		if i > 0 {
			text += " "
		}
		text += a
	}

	c := &client{base: *base, user: *user, http: &http.Client{Timeout: 30 * time.Second}}

	var resp command.Response
	err := c.post(ctx, "/v1/command", map[string]any{
		"input":          map[string]string{"type": "text", "text": text},
		"profile":        *profile,
		"client_context": map[string]any{"session_id": *sessionID},
	}, &resp)
	if err != nil {
		return err
	}

	printResponse(&resp)
	return nil
}

func runConfirm(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ExitOnError)
	base, user := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("confirm requires the pending-action token")
	}

	c := &client{base: *base, user: *user, http: &http.Client{Timeout: 30 * time.Second}}

	var resp command.Response
	if err := c.post(ctx, "/v1/commands/confirm", map[string]string{"token": fs.Arg(0)}, &resp); err != nil {
		return err
	}
	printResponse(&resp)
	return nil
}

func printResponse(resp *command.Response) {
	gray := color.New(color.FgHiBlack)
	gray.Printf("[%s]\n", resp.Intent.Name)

	if resp.Response.Type == "error" {
		color.Red("%s (%s)", resp.Response.Text, resp.Response.ErrorKind)
	} else {
		color.Cyan("%s", resp.Response.Text)
	}

	if resp.PendingAction != nil {
		color.Yellow("pending: %s", resp.PendingAction.Summary)
		gray.Printf("  token:   %s\n", resp.PendingAction.Token)
		gray.Printf("  expires: %s\n", resp.PendingAction.ExpiresAt.Format(time.RFC3339))
	}

	for _, card := range resp.Cards {
		fmt.Printf("  • %s", card.Title)
		if card.Subtitle != "" {
			gray.Printf("  %s", card.Subtitle)
		}
		fmt.Println()
	}
}

func runNotifications(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("notifications", flag.ExitOnError)
	base, user := commonFlags(fs)
	follow := fs.Bool("follow", false, "poll for new notifications")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := &client{base: *base, user: *user, http: &http.Client{Timeout: 30 * time.Second}}

	since := time.Time{}
	for {
		var out struct {
			Notifications []struct {
				ID        string    `json:"id"`
				EventType string    `json:"event_type"`
				Message   string    `json:"message"`
				Priority  int       `json:"priority"`
				CreatedAt time.Time `json:"created_at"`
			} `json:"notifications"`
		}

		path := "/v1/notifications"
		if !since.IsZero() {
			path += "?since=" + since.Format(time.RFC3339)
		}
		if err := c.get(ctx, path, &out); err != nil {
			return err
		}

		// The server answers newest-first; print oldest-first.
		for i := len(out.Notifications) - 1; i >= 0; i-- {
			n := out.Notifications[i]
			prio := color.New(color.FgGreen)
			if n.Priority >= 4 {
				prio = color.New(color.FgRed, color.Bold)
			}
			prio.Printf("[p%d] ", n.Priority)
			fmt.Printf("%s  ", n.Message)
			color.New(color.FgHiBlack).Printf("%s %s\n", n.EventType, n.CreatedAt.Format("15:04:05"))
			if n.CreatedAt.After(since) {
				since = n.CreatedAt
			}
		}

		if !*follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(3 * time.Second):
		}
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "dev-user", "user id claim")
	secret := fs.String("secret", envOr("JWT_SECRET", ""), "HS256 signing secret")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return fmt.Errorf("token requires -secret or JWT_SECRET")
	}

	token, err := auth.NewJWTAuthenticator([]byte(*secret)).Generate(*user, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
