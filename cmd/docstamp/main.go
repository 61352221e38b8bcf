package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docstamp/docstamp/digest"
	"github.com/docstamp/docstamp/gateway/rest"
	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/service"
	"github.com/docstamp/docstamp/session"
	sessionfile "github.com/docstamp/docstamp/session/file"
)

// Default server base URL; override with DOCSTAMP_SERVER or --server.
var serverBaseURL = "http://localhost:8000"

func main() {
	cmd := flag.String("cmd", "status", "Command: login|register|anchor|verify|list|remove|cert|status|logout")
	username := flag.String("user", "", "Username (login/register)")
	password := flag.String("pass", "", "Password (login/register)")
	confirm := flag.String("confirm", "", "Password confirmation (register)")
	email := flag.String("email", "", "Email for the verification code (register)")
	filePath := flag.String("file", "", "Document path (anchor/verify)")
	recordID := flag.Int64("id", 0, "Record id (remove)")
	skip := flag.Int("skip", 0, "Records to skip (list)")
	limit := flag.Int("limit", 0, "Max records (list)")
	all := flag.Bool("all", false, "List all records, not just your own (admin only)")
	serverFlag := flag.String("server", "", "Override server base URL (e.g. https://stamp.example.com)")
	flag.Parse()

	if env := os.Getenv("DOCSTAMP_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if *serverFlag != "" {
		serverBaseURL = strings.TrimRight(*serverFlag, "/")
	}

	timeout := 30 * time.Second
	if env := os.Getenv("DOCSTAMP_TIMEOUT"); env != "" {
		if d, err := time.ParseDuration(env); err == nil && d > 0 {
			timeout = d
		}
	}

	sessions, err := sessionfile.NewStore(sessionPath())
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}

	ctx := context.Background()
	gw := rest.NewGateway(serverBaseURL, sessions, timeout)
	svc, err := service.NewService(ctx, gw, sessions, digest.NewComputer())
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	switch *cmd {
	case "login":
		err = runLogin(ctx, svc, *username, *password)
	case "register":
		err = runRegister(ctx, svc, *username, *email, *password, *confirm)
	case "anchor":
		err = runAnchor(ctx, svc, *filePath)
	case "verify":
		err = runVerify(ctx, svc, *filePath)
	case "list":
		err = runList(ctx, svc, *all, *skip, *limit)
	case "remove":
		err = runRemove(ctx, svc, *recordID)
	case "cert":
		err = runCert(ctx, svc)
	case "status":
		err = runStatus(ctx, svc)
	case "logout":
		err = svc.Logout(ctx)
	default:
		log.Fatalf("Unknown command: %s", *cmd)
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func sessionPath() string {
	if env := os.Getenv("DOCSTAMP_SESSION_FILE"); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "docstamp", "session.json")
}

func runLogin(ctx context.Context, svc *service.Service, username, password string) error {
	if username == "" || password == "" {
		return errors.New("--user and --pass are required")
	}

	state, err := svc.Login(ctx, models.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	if state == service.StateAwaitingOTP {
		if err := promptOTP(ctx, svc); err != nil {
			return err
		}
	}
	return printSession(ctx, svc, "Logged in")
}

func runRegister(ctx context.Context, svc *service.Service, username, email, password, confirm string) error {
	state, err := svc.Register(ctx, username, email, models.Credentials{Username: username, Password: password}, confirm)
	if err != nil {
		return err
	}
	if state == service.StateAnonymous {
		fmt.Println("Account created. Log in to continue.")
		return nil
	}
	if err := promptOTP(ctx, svc); err != nil {
		return err
	}
	return printSession(ctx, svc, "Registered and logged in")
}

// promptOTP reads codes from stdin until one is accepted, the challenge
// expires, or input runs out.
func promptOTP(ctx context.Context, svc *service.Service) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Enter the 6-digit code sent to your email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading code: %w", err)
		}

		_, err = svc.SubmitOTP(ctx, strings.TrimSpace(line))
		if err == nil {
			return nil
		}
		if errors.Is(err, service.ErrInvalidOTP) {
			fmt.Println("Code rejected, try again.")
			continue
		}
		return err
	}
}

func printSession(ctx context.Context, svc *service.Service, prefix string) error {
	sess, err := svc.CurrentSession(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s as %s (role %s)\n", prefix, sess.Username, sess.Role)
	return nil
}

func runAnchor(ctx context.Context, svc *service.Service, path string) error {
	if path == "" {
		return errors.New("--file is required")
	}
	result, err := svc.Anchor(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("Anchored %s\n  digest:    %s\n  record id: %d\n  timestamp: %s\n",
		result.Record.Filename, result.LocalDigest, result.Record.ID,
		result.Record.Timestamp.Format(time.RFC3339))
	return nil
}

func runVerify(ctx context.Context, svc *service.Service, path string) error {
	if path == "" {
		return errors.New("--file is required")
	}
	outcome, err := svc.Verify(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("digest: %s\n", outcome.LocalDigest)
	if !outcome.Verified {
		fmt.Println("NOT VERIFIED: no anchored record matches this content")
		return nil
	}
	fmt.Println("VERIFIED")
	if rec := outcome.MatchedRecord; rec != nil {
		fmt.Printf("  anchored as %q at %s (record %d)\n",
			rec.Filename, rec.Timestamp.Format(time.RFC3339), rec.ID)
	}
	return nil
}

func runList(ctx context.Context, svc *service.Service, all bool, skip, limit int) error {
	scope := models.ScopeOwn
	if all {
		scope = models.ScopeAll
	}
	records, err := svc.List(ctx, scope, skip, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No records.")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%6d  %s  %s  %s\n", rec.ID, rec.Timestamp.Format(time.RFC3339), rec.Digest, rec.Filename)
	}
	return nil
}

func runRemove(ctx context.Context, svc *service.Service, id int64) error {
	if id <= 0 {
		return errors.New("--id is required")
	}
	if err := svc.Remove(ctx, id); err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			fmt.Printf("Record %d not found (already removed?)\n", id)
			return nil
		}
		return err
	}
	fmt.Printf("Record %d removed\n", id)
	return nil
}

func runCert(ctx context.Context, svc *service.Service) error {
	cert, err := svc.Certificate(ctx)
	if err != nil {
		return err
	}
	fmt.Println(cert)
	return nil
}

func runStatus(ctx context.Context, svc *service.Service) error {
	sess, err := svc.CurrentSession(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthenticated) {
			fmt.Println("Not logged in.")
			return nil
		}
		return err
	}
	fmt.Printf("Logged in as %s (role %s)\n", sess.Username, sess.Role)
	if exp, ok := session.TokenExpiry(sess.AccessToken); ok {
		fmt.Printf("Session expires %s\n", exp.Format(time.RFC3339))
	}
	return nil
}
