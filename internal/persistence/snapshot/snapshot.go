package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"cooptrader.dev/internal/assort/ledger"
)

const (
	Version = 1
	ext     = ".snap.zst"

	nameLayout = "20060102T150405.000000000Z"
)

type Header struct {
	Version  int    `json:"version"`
	TraderID string `json:"trader_id"`
	TakenAt  string `json:"taken_at"`
	Entries  int    `json:"entries"`
	Digest   string `json:"digest"`
	Reason   string `json:"reason,omitempty"`
}

type Snapshot struct {
	Header Header
	Ledger ledger.Ledger
}

// New captures l, filling the header digest from its encoded form.
func New(traderID, reason string, l ledger.Ledger, at time.Time) (Snapshot, []byte, error) {
	l = l.Compact()
	body, err := ledger.Encode(l)
	if err != nil {
		return Snapshot{}, nil, err
	}
	sum := sha256.Sum256(body)
	h := Header{
		Version:  Version,
		TraderID: traderID,
		TakenAt:  at.UTC().Format(time.RFC3339Nano),
		Entries:  len(l),
		Digest:   hex.EncodeToString(sum[:]),
		Reason:   reason,
	}
	return Snapshot{Header: h, Ledger: l}, body, nil
}

// Take writes a snapshot of l under dir/<traderID>/ and returns its path.
func Take(dir, traderID, reason string, l ledger.Ledger, at time.Time) (string, error) {
	snap, body, err := New(traderID, reason, l, at)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, traderID, at.UTC().Format(nameLayout)+ext)
	if err := write(path, snap.Header, body); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSnapshot writes snap to path; the header's entry count and digest are
// recomputed from the ledger.
func WriteSnapshot(path string, snap Snapshot) error {
	l := snap.Ledger.Compact()
	body, err := ledger.Encode(l)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	h := snap.Header
	h.Version = Version
	h.Entries = len(l)
	h.Digest = hex.EncodeToString(sum[:])
	return write(path, h, body)
}

func write(path string, h Header, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	err = func() error {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		bw := bufio.NewWriterSize(enc, 256*1024)
		hb, _ := json.Marshal(h)
		if _, err := bw.Write(hb); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if _, err := bw.Write(body); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		return enc.Close()
	}()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSnapshot decodes a snapshot and checks its digest. The ledger goes
// through the same validation as the live ledger file.
func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	hl, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(hl, &snap.Header); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return snap, err
	}
	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); got != snap.Header.Digest {
		return snap, fmt.Errorf("digest mismatch: header=%s body=%s", snap.Header.Digest, got)
	}
	l, err := ledger.Decode(body)
	if err != nil {
		return snap, err
	}
	snap.Ledger = l
	return snap, nil
}

// List returns the trader's snapshot paths, oldest first.
func List(dir, traderID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, traderID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, traderID, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func Latest(dir, traderID string) (string, bool, error) {
	paths, err := List(dir, traderID)
	if err != nil || len(paths) == 0 {
		return "", false, err
	}
	return paths[len(paths)-1], true, nil
}

// Prune removes all but the newest keep snapshots. keep <= 0 keeps everything.
func Prune(dir, traderID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	paths, err := List(dir, traderID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(paths)-removed > keep {
		if err := os.Remove(paths[removed]); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
