package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cooptrader.dev/internal/assort/ledger"
	"cooptrader.dev/internal/persistence/snapshot"
)

type WipeArchiveMeta struct {
	Wipe      int    `json:"wipe"`
	TraderID  string `json:"trader_id"`
	Entries   int    `json:"entries"`
	Ledger    string `json:"ledger"`
	Snapshot  string `json:"snapshot"`
	Digest    string `json:"digest"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Wipe copies the trader's ledger file and a compressed snapshot of it into
// `<trader dir>/archives/wipe_<NNN>/`, then resets the ledger to empty.
func Wipe(store *ledger.Store, traderID, reason string) (WipeArchiveMeta, string, error) {
	var meta WipeArchiveMeta
	l, err := store.Load()
	if err != nil {
		return meta, "", fmt.Errorf("load ledger: %w", err)
	}

	root := filepath.Join(store.Dir(), "archives")
	n, err := nextWipe(root)
	if err != nil {
		return meta, "", err
	}
	archiveDir := filepath.Join(root, fmt.Sprintf("wipe_%03d", n))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return meta, "", err
	}

	ledgerDst := filepath.Join(archiveDir, ledger.FileName)
	if err := copyFile(store.Path(), ledgerDst); err != nil {
		return meta, "", err
	}

	now := time.Now().UTC()
	snap, _, err := snapshot.New(traderID, "wipe", l, now)
	if err != nil {
		return meta, "", err
	}
	snapDst := filepath.Join(archiveDir, "ledger.snap.zst")
	if err := snapshot.WriteSnapshot(snapDst, snap); err != nil {
		return meta, "", err
	}

	meta = WipeArchiveMeta{
		Wipe:      n,
		TraderID:  traderID,
		Entries:   snap.Header.Entries,
		Ledger:    filepath.Base(ledgerDst),
		Snapshot:  filepath.Base(snapDst),
		Digest:    snap.Header.Digest,
		Reason:    reason,
		CreatedAt: now.Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return meta, "", err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return meta, "", err
	}

	if err := store.Save(ledger.Ledger{}); err != nil {
		return meta, archiveDir, fmt.Errorf("reset ledger: %w", err)
	}
	return meta, archiveDir, nil
}

// Wipes lists archived wipes, oldest first.
func Wipes(store *ledger.Store) ([]WipeArchiveMeta, error) {
	root := filepath.Join(store.Dir(), "archives")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []WipeArchiveMeta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "wipe_") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(root, e.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var m WipeArchiveMeta
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func nextWipe(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	last := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "wipe_"))
		if err != nil || !strings.HasPrefix(e.Name(), "wipe_") {
			continue
		}
		if n > last {
			last = n
		}
	}
	return last + 1, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
