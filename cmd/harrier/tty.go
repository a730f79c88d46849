package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/Strob0t/harrier/internal/service"
)

// promptApprovals resolves pending checkpoints from the terminal in
// supervised mode. Without a TTY (e.g. piped stdin) it does nothing and
// leaves resolution to the API and queue.
func promptApprovals(ctx context.Context, ctl *service.HITLController) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}

	reader := bufio.NewReader(os.Stdin)
	seen := make(map[string]bool)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, id := range ctl.Pending() {
			if seen[id] {
				continue
			}
			seen[id] = true

			fmt.Fprintf(os.Stderr, "checkpoint %s pending. approve? [y/N]: ", id)
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
			ctl.Resolve(id, approved, "", "terminal")
		}
	}
}

// runHashToken prompts for an API token and prints its bcrypt hash, for
// the server.api_token_hash config value.
func runHashToken() error {
	fmt.Fprint(os.Stderr, "API token: ")
	raw, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("token must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(raw, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}
