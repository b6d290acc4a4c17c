package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"familyledger/internal/client"
)

// cliNavigator maps the running subcommand onto the client's page model so
// the guard skips the login redirect while logging in or registering
type cliNavigator struct {
	command string
}

func (n cliNavigator) CurrentPath() string {
	switch n.command {
	case "login":
		return client.DefaultLoginPath
	case "register":
		return "/register"
	}
	return "/" + n.command
}

func (n cliNavigator) Navigate(path string) {
	if path == client.DefaultLoginPath {
		fmt.Fprintln(os.Stderr, "Run `ledgerctl login` to sign in again.")
	}
}

func printToast(t client.Toast) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", t.Kind, t.Message)
}

func main() {
	log.SetFlags(0)

	global := flag.NewFlagSet("ledgerctl", flag.ExitOnError)
	serverURL := global.String("server", envOr("LEDGER_SERVER", "http://localhost:8080"), "API base URL")
	sessionPath := global.String("session", "", "Session file (default: user config dir)")
	global.Usage = printUsage
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command, args := args[0], args[1:]

	if *sessionPath == "" {
		path, err := client.DefaultSessionPath()
		if err != nil {
			log.Fatalf("Failed to locate session file: %v", err)
		}
		*sessionPath = path
	}
	store, err := client.NewFileTokenStore(*sessionPath)
	if err != nil {
		log.Fatal(err)
	}

	guard := client.NewGuard(client.GuardConfig{
		Tokens:        store,
		Notify:        printToast,
		Navigator:     cliNavigator{command: command},
		RedirectDelay: time.Millisecond,
	})
	defer guard.Close()

	api := client.New(*serverURL, guard)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, api, command, args); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			// The guard has already shown a toast for it
			os.Exit(1)
		}
		log.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, api *client.Client, command string, args []string) error {
	switch command {
	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		email := fs.String("email", "", "Email address")
		name := fs.String("name", "", "Display name")
		password := fs.String("password", "", "Password (prompted when empty)")
		familyName := fs.String("family", "", "Create a family with this name")
		inviteCode := fs.String("code", "", "Join a family with this invite code")
		fs.Parse(args)
		pw, err := passwordOrPrompt(*password)
		if err != nil {
			return err
		}
		user, err := api.Register(ctx, *email, pw, *name, *familyName, *inviteCode)
		if err != nil {
			return err
		}
		fmt.Println("Check your inbox to verify your email address.")
		return printJSON(user)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "Email address")
		password := fs.String("password", "", "Password (prompted when empty)")
		fs.Parse(args)
		pw, err := passwordOrPrompt(*password)
		if err != nil {
			return err
		}
		session, err := api.Login(ctx, *email, pw)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", session.User.Email)
		return nil

	case "logout":
		if err := api.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil

	case "refresh":
		return api.Refresh(ctx)

	case "me":
		user, err := api.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(user)

	case "family":
		family, err := api.MyFamily(ctx)
		if err != nil {
			return err
		}
		return printJSON(family)

	case "create-family":
		fs := flag.NewFlagSet("create-family", flag.ExitOnError)
		description := fs.String("description", "", "Family description")
		fs.Parse(args)
		if fs.NArg() != 1 {
			return errors.New("usage: ledgerctl create-family [-description text] <name>")
		}
		family, err := api.CreateFamily(ctx, fs.Arg(0), *description)
		if err != nil {
			return err
		}
		return printJSON(family)

	case "search":
		families, err := api.SearchFamilies(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printJSON(families)

	case "join":
		if len(args) != 1 {
			return errors.New("usage: ledgerctl join <invite-code>")
		}
		family, err := api.JoinByCode(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(family)

	case "request":
		fs := flag.NewFlagSet("request", flag.ExitOnError)
		message := fs.String("message", "", "Message for the family admins")
		fs.Parse(args)
		if fs.NArg() != 1 {
			return errors.New("usage: ledgerctl request [-message text] <family-id>")
		}
		familyID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid family id: %w", err)
		}
		jr, err := api.RequestJoin(ctx, familyID, *message)
		if err != nil {
			return err
		}
		return printJSON(jr)

	case "requests":
		fs := flag.NewFlagSet("requests", flag.ExitOnError)
		mine := fs.Bool("mine", false, "List your own requests instead of your family's pending ones")
		fs.Parse(args)
		if *mine {
			reqs, err := api.MyRequests(ctx)
			if err != nil {
				return err
			}
			return printJSON(reqs)
		}
		reqs, err := api.PendingRequests(ctx)
		if err != nil {
			return err
		}
		return printJSON(reqs)

	case "respond":
		fs := flag.NewFlagSet("respond", flag.ExitOnError)
		message := fs.String("message", "", "Message for the requester")
		fs.Parse(args)
		if fs.NArg() != 2 {
			return errors.New("usage: ledgerctl respond [-message text] <request-id> approve|reject")
		}
		requestID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}
		jr, err := api.RespondToJoinRequest(ctx, requestID, fs.Arg(1), *message)
		if err != nil {
			return err
		}
		return printJSON(jr)

	case "leave":
		if err := api.LeaveFamily(ctx); err != nil {
			return err
		}
		fmt.Println("You have left your family")
		return nil
	}

	printUsage()
	os.Exit(1)
	return nil
}

func passwordOrPrompt(password string) (string, error) {
	if password != "" {
		return password, nil
	}
	if env := os.Getenv("LEDGER_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("Family Ledger command-line client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ledgerctl [-server url] [-session file] <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  register -email e -name n [-family name | -code invite]")
	fmt.Println("  login -email e                  Sign in and store the session")
	fmt.Println("  logout                          Revoke and remove the session")
	fmt.Println("  refresh                         Renew the access token")
	fmt.Println("  me                              Show your account")
	fmt.Println("  family                          Show your family and its members")
	fmt.Println("  create-family <name>            Create a family you own")
	fmt.Println("  search <query>                  Find families by name")
	fmt.Println("  join <invite-code>              Join a family with its invite code")
	fmt.Println("  request <family-id>             Ask to join a family")
	fmt.Println("  requests [-mine]                List pending join requests")
	fmt.Println("  respond <id> approve|reject     Answer a join request")
	fmt.Println("  leave                           Leave your family")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  LEDGER_SERVER    API base URL (default: http://localhost:8080)")
	fmt.Println("  LEDGER_PASSWORD  Password used by login and register")
}
