// Command authctl registers, logs in and inspects the stored session against
// the campussite API.
//
// Usage:
//
//	authctl register -email alice@x.com
//	authctl login -email alice@x.com
//	authctl whoami
//	authctl logout
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/campussite/campussite-go/internal/config"
	"github.com/campussite/campussite-go/internal/session"
	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

type app struct {
	api     session.AuthAPI
	session *session.Session
	in      *bufio.Reader
	out     io.Writer
	stdinFD int
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	api := session.NewHTTPClient(cfg.BaseURL, &http.Client{Timeout: cfg.HTTPTimeout})

	a := &app{
		api:     api,
		session: session.New(api, session.NewFileStore(cfg.TokenFile), logger),
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		stdinFD: int(os.Stdin.Fd()),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: authctl <register|login|logout|whoami> [flags]")
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "register":
		return a.register(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "logout":
		a.session.Logout()
		fmt.Fprintln(a.out, "logged out")
		return nil
	case "whoami":
		return a.whoami(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) register(ctx context.Context, args []string) error {
	email, password, err := a.credentials("register", args)
	if err != nil {
		return err
	}

	if err := a.api.Register(ctx, email, password); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "registered", email)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	email, password, err := a.credentials("login", args)
	if err != nil {
		return err
	}

	if err := a.session.Login(ctx, email, password); err != nil {
		return errors.New(a.session.State().Err)
	}
	user, _ := a.session.User()
	fmt.Fprintf(a.out, "logged in as %s (%s)\n", user.Email, user.Role)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if err := a.session.Bootstrap(ctx); err != nil {
		return errors.New(a.session.State().Err)
	}

	user, ok := a.session.User()
	if !ok {
		fmt.Fprintln(a.out, "not logged in")
		return nil
	}
	fmt.Fprintf(a.out, "%s\t%s\trole=%s\tadmin=%t\n", user.ID, user.Email, user.Role, a.session.IsAdmin())
	return nil
}

func (a *app) credentials(name string, args []string) (email, password string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	fs.StringVar(&email, "email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}

	if email == "" {
		fmt.Fprint(a.out, "Email: ")
		if email, err = a.readLine(); err != nil {
			return "", "", err
		}
	}

	fmt.Fprint(a.out, "Password: ")
	pw, err := readPassword(a.stdinFD)
	fmt.Fprintln(a.out)
	if err != nil {
		// Not a terminal; fall back to a plain line so scripts can pipe it in.
		if password, err = a.readLine(); err != nil {
			return "", "", err
		}
		return email, password, nil
	}
	return email, string(pw), nil
}

func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func describe(err error) error {
	var apiErr *session.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return errors.New(apiErr.Message)
	}
	if errors.As(err, &apiErr) {
		return err
	}
	return errors.New(session.MsgUnreachable)
}
