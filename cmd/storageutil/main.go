// storageutil moves the persisted proxy state (accounts, round-robin seed,
// runtime config) in and out of any configured backend as a JSON snapshot.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ag2api-go/internal/config"
	"ag2api-go/internal/storage"
)

// snapshot is the portable dump format. Monitor logs are operational noise
// and stay behind.
type snapshot struct {
	ExportedAt       time.Time           `json:"exportedAt"`
	Backend          string              `json:"backend"`
	Accounts         []storage.Account   `json:"accounts"`
	CurrentAccountID string              `json:"currentAccountId,omitempty"`
	ProxyConfig      *config.ProxyConfig `json:"proxyConfig,omitempty"`
}

func main() {
	mode := flag.String("mode", "", "operation mode: export | import | verify")
	filePath := flag.String("file", "", "snapshot path (default: stdout/stdin)")
	timeout := flag.Duration("timeout", 30*time.Second, "operation timeout")
	flag.Parse()

	if *mode == "" {
		fail(fmt.Errorf("missing -mode (export|import|verify)"))
	}

	settings, err := config.LoadSettings()
	if err != nil {
		fail(fmt.Errorf("load settings: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := storage.Open(ctx, settings)
	if err != nil {
		fail(fmt.Errorf("open store: %w", err))
	}
	defer store.Close()

	switch strings.ToLower(*mode) {
	case "export":
		if err := runExport(ctx, store, *filePath); err != nil {
			fail(err)
		}
	case "import":
		if err := runImport(ctx, store, *filePath); err != nil {
			fail(err)
		}
	case "verify":
		matches, err := runVerify(ctx, store, *filePath)
		if err != nil {
			fail(err)
		}
		if !matches {
			os.Exit(1)
		}
	default:
		fail(fmt.Errorf("unknown mode %q (expected export|import|verify)", *mode))
	}
}

func dump(ctx context.Context, store storage.Store) (*snapshot, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	current, err := store.GetCurrentAccountID(ctx)
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("read current account: %w", err)
	}
	cfg, err := store.GetProxyConfig(ctx)
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("read proxy config: %w", err)
	}
	return &snapshot{
		ExportedAt:       time.Now().UTC(),
		Backend:          store.Backend(),
		Accounts:         accounts,
		CurrentAccountID: current,
		ProxyConfig:      cfg,
	}, nil
}

func runExport(ctx context.Context, store storage.Store, path string) error {
	snap, err := dump(ctx, store)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("write export json: %w", err)
	}
	return nil
}

func runImport(ctx context.Context, store storage.Store, path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return fmt.Errorf("read import json: %w", err)
	}
	for i := range snap.Accounts {
		acc := snap.Accounts[i]
		if err := store.UpsertAccount(ctx, &acc); err != nil {
			return fmt.Errorf("import account %s: %w", acc.Email, err)
		}
	}
	if snap.CurrentAccountID != "" {
		if err := store.SetCurrentAccountID(ctx, snap.CurrentAccountID); err != nil {
			return fmt.Errorf("import current account: %w", err)
		}
	}
	if snap.ProxyConfig != nil {
		if err := store.SetProxyConfig(ctx, snap.ProxyConfig); err != nil {
			return fmt.Errorf("import proxy config: %w", err)
		}
	}
	fmt.Printf("imported %d account(s)\n", len(snap.Accounts))
	return nil
}

func runVerify(ctx context.Context, store storage.Store, path string) (bool, error) {
	want, err := readSnapshot(path)
	if err != nil {
		return false, fmt.Errorf("read reference json: %w", err)
	}
	got, err := dump(ctx, store)
	if err != nil {
		return false, err
	}

	// Export timestamp and backend label are per-dump metadata, not data.
	want.ExportedAt, got.ExportedAt = time.Time{}, time.Time{}
	want.Backend, got.Backend = "", ""

	wantJSON, _ := json.Marshal(want)
	gotJSON, _ := json.Marshal(got)
	if string(wantJSON) == string(gotJSON) {
		fmt.Println("storage matches reference snapshot")
		return true, nil
	}
	fmt.Println("storage diverges from reference snapshot")
	return false, nil
}

func readSnapshot(path string) (*snapshot, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "storageutil:", err)
	os.Exit(1)
}
