package ledger

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FileName is the per-trader ledger file inside the trader's cache directory.
const FileName = "dynamicAssort.json"

var ErrCorrupt = errors.New("ledger: corrupt ledger file")

//go:embed ledger.schema.json
var ledgerSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func ledgerSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("ledger.schema.json", ledgerSchemaJSON)
	})
	return schema, schemaErr
}

// Store persists one trader's ledger as a flat JSON file. Nothing is cached:
// every Load re-reads the file.
type Store struct {
	dir  string
	path string
}

func NewStore(cacheDir, traderID string) *Store {
	dir := filepath.Join(cacheDir, traderID)
	return &Store{dir: dir, path: filepath.Join(dir, FileName)}
}

func (s *Store) Dir() string  { return s.dir }
func (s *Store) Path() string { return s.path }

// Load returns the persisted ledger, creating an empty one on first access.
func (s *Store) Load() (Ledger, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := s.Save(Ledger{}); err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		return Ledger{}, nil
	}
	return Decode(b)
}

// Save compacts the ledger and replaces the file via write-then-rename.
func (s *Store) Save(l Ledger) error {
	b, err := Encode(l.Compact())
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

// Decode validates raw ledger JSON against the ledger schema and decodes it.
func Decode(b []byte) (Ledger, error) {
	sch, err := ledgerSchema()
	if err != nil {
		return nil, fmt.Errorf("compile ledger schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var l Ledger
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if l == nil {
		l = Ledger{}
	}
	return l, nil
}

func Encode(l Ledger) ([]byte, error) {
	if l == nil {
		l = Ledger{}
	}
	return json.MarshalIndent(l, "", "    ")
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
