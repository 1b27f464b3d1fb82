package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chainkeeper/chainkeeper/internal/config"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/secrets"
)

// runKeysCommand implements the `chainkeeperd keys <list|get|set|remove>`
// subcommand tree against the configured secret store backend.
func runKeysCommand(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: chainkeeperd keys <list|get|set|remove> [args...]")
		return exitConfigError
	}

	var configPath string
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			configPath = args[i+1]
		}
	}
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	backend, err := buildSecretBackend(cfg.KeyStorage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key storage init failed: %v\n", err)
		return exitKeyStoreError
	}
	log := logger.New(logger.DefaultConfig())
	store := secrets.NewStore(backend, cfg.KeyStorage.CacheTTL, secrets.NewAuditor(zap.NewNop()))
	defer store.Close()

	ctx := context.Background()

	switch args[0] {
	case "list":
		return keysList(ctx, store)
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chainkeeperd keys get <network>")
			return exitConfigError
		}
		return keysGet(ctx, store, args[1])
	case "set":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chainkeeperd keys set <network>")
			return exitConfigError
		}
		return keysSet(ctx, store, args[1], log)
	case "remove":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chainkeeperd keys remove <network>")
			return exitConfigError
		}
		return keysRemove(ctx, store, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown keys subcommand %q\n", args[0])
		return exitConfigError
	}
}

func keysList(ctx context.Context, store *secrets.Store) int {
	networks, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		return exitKeyStoreError
	}
	for _, n := range networks {
		fmt.Println(n)
	}
	return exitOK
}

// keysGet confirms a network has a usable signing key without ever
// printing key material (secrets.Secret.String is always "REDACTED").
func keysGet(ctx context.Context, store *secrets.Store, network string) int {
	secret, err := store.Get(ctx, network)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
		return exitKeyStoreError
	}
	defer secret.Close()
	fmt.Printf("%s: key present (%s)\n", network, secret)
	return exitOK
}

// keysSet reads a private key (hex, optionally 0x-prefixed) from stdin
// so the key material never appears in shell history or process args.
func keysSet(ctx context.Context, store *secrets.Store, network string, log *logger.Logger) int {
	fmt.Fprintf(os.Stderr, "enter private key for %s (hex), then EOF: ", network)
	var raw []byte
	buf := make([]byte, 4096)
	n, err := os.Stdin.Read(buf)
	if err != nil && n == 0 {
		fmt.Fprintf(os.Stderr, "read key failed: %v\n", err)
		return exitKeyStoreError
	}
	raw = trimNewline(buf[:n])

	if err := store.Put(ctx, network, raw); err != nil {
		fmt.Fprintf(os.Stderr, "set failed: %v\n", err)
		return exitKeyStoreError
	}
	log.Info("key stored", "network", network)
	return exitOK
}

func keysRemove(ctx context.Context, store *secrets.Store, network string) int {
	if err := store.Remove(ctx, network); err != nil {
		fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
		return exitKeyStoreError
	}
	fmt.Printf("%s: removed\n", network)
	return exitOK
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
