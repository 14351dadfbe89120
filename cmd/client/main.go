// Command client is a small terminal client for chatline. Lines typed are sent
// to the open conversation; "/open <user>" switches conversation, "/users"
// shows who is online and unseen counts, "/quit" exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/chatclient"
	"github.com/Tyrowin/chatline/internal/logging"
	"github.com/Tyrowin/chatline/internal/messages"
)

type selection struct {
	mu      sync.Mutex
	partner string
}

func (s *selection) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partner
}

func (s *selection) set(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partner = p
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "user id (with -secret, a dev token is minted locally)")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret for minting a dev token")
	token := flag.String("token", "", "existing token; overrides -user/-secret")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *debug {
		level = "debug"
	}
	logger, err := logging.New(level, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	tok := *token
	if tok == "" {
		if *user == "" || *secret == "" {
			fmt.Fprintln(os.Stderr, "need -token, or -user and -secret")
			os.Exit(2)
		}
		tok, err = auth.GenerateToken(*user, []byte(*secret), 24*time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *serverURL, tok, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, tok string, logger logging.Logger) error {
	api := chatclient.NewAPIClient(serverURL, tok)
	sel := &selection{}
	rec := chatclient.NewReconciler(sel.get, api, logger)
	defer rec.Wait()

	users, err := api.Users(ctx)
	if err != nil {
		return err
	}
	rec.SetUnseen(users.Unseen)
	printUsers(users.Online, rec.UnseenCounts())

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	session, err := chatclient.Dial(ctx, wsURL, tok, rec, logger)
	if err != nil {
		// History and sending still work over HTTP.
		fmt.Printf("live updates unavailable: %v\n", err)
	} else {
		session.OnPresence = func(online []string) {
			printUsers(online, rec.UnseenCounts())
		}
		session.OnMessage = func(msg messages.Message, d chatclient.Disposition) {
			if d == chatclient.ActiveConversation {
				printMessage(msg)
				return
			}
			fmt.Printf("* new message from %s (%d unseen)\n", msg.SenderID, rec.Unseen(msg.SenderID))
		}
		go func() {
			if err := session.Run(ctx); err != nil {
				logger.Warn(ctx, "session ended", "error", err)
			}
		}()
		defer session.Close()
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	prompt := func() {
		if interactive {
			if p := sel.get(); p != "" {
				fmt.Printf("%s> ", p)
			} else {
				fmt.Print("> ")
			}
		}
	}
	prompt()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, strings.TrimSpace(line), api, rec, sel); quit {
				return nil
			}
			prompt()
		}
	}
}

func handleLine(ctx context.Context, line string, api *chatclient.APIClient, rec *chatclient.Reconciler, sel *selection) bool {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/users":
		users, err := api.Users(ctx)
		if err != nil {
			fmt.Printf("users: %v\n", err)
			return false
		}
		printUsers(users.Online, rec.UnseenCounts())
	case strings.HasPrefix(line, "/open "):
		partner := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
		sel.set(partner)
		history, err := api.History(ctx, partner)
		if err != nil {
			fmt.Printf("history: %v\n", err)
			return false
		}
		rec.LoadConversation(partner, history)
		fmt.Printf("--- conversation with %s ---\n", partner)
		for _, m := range history {
			printMessage(m)
		}
	default:
		partner := sel.get()
		if partner == "" {
			fmt.Println("open a conversation first: /open <user>")
			return false
		}
		payload := messages.Payload{Text: line}
		if strings.HasPrefix(line, "/image ") {
			payload = messages.Payload{Image: strings.TrimSpace(strings.TrimPrefix(line, "/image "))}
		}
		msg, err := api.Send(ctx, partner, payload)
		if err != nil {
			fmt.Printf("send: %v\n", err)
			return false
		}
		printMessage(msg)
	}
	return false
}

func printUsers(online []string, unseen map[string]int) {
	fmt.Printf("online: %s\n", strings.Join(online, ", "))
	senders := make([]string, 0, len(unseen))
	for s := range unseen {
		senders = append(senders, s)
	}
	sort.Strings(senders)
	for _, s := range senders {
		fmt.Printf("  %s: %d unseen\n", s, unseen[s])
	}
}

func printMessage(m messages.Message) {
	body := m.Text
	if m.Image != "" {
		body = "[image] " + m.Image
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, body)
}
