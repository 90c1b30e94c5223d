package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type Kind uint8

const (
	KindStack Kind = iota + 1
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindStack:
		return "stack"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Component is one record of a grouped item (a weapon body, one of its mods, a
// cartridge stack inside a magazine). Location and Upd are carried verbatim.
type Component struct {
	ID       string          `json:"_id"`
	Tpl      string          `json:"_tpl"`
	ParentID string          `json:"parentId,omitempty"`
	SlotID   string          `json:"slotId,omitempty"`
	Location json.RawMessage `json:"location,omitempty"`
	Upd      json.RawMessage `json:"upd,omitempty"`
}

// Entry is either a stack {tpl,count} or a group of components.
// On disk a stack is a JSON object and a group is a JSON array.
type Entry struct {
	Kind Kind

	Tpl   string
	Count int

	Components []Component
}

func Stack(tpl string, count int) Entry {
	return Entry{Kind: KindStack, Tpl: tpl, Count: count}
}

func Group(components []Component) Entry {
	cp := make([]Component, len(components))
	copy(cp, components)
	return Entry{Kind: KindGroup, Components: cp}
}

func (e Entry) IsStack() bool { return e.Kind == KindStack }
func (e Entry) IsGroup() bool { return e.Kind == KindGroup }

// Valid reports whether the entry may appear in a live assort.
// Stacks need a template and a positive count; groups need at least one component.
func (e Entry) Valid() bool {
	switch e.Kind {
	case KindStack:
		return e.Tpl != "" && e.Count > 0
	case KindGroup:
		return len(e.Components) > 0
	default:
		return false
	}
}

// RootTpl is the template of the stack, or of the first (root) group component.
func (e Entry) RootTpl() string {
	if e.Kind == KindGroup {
		if len(e.Components) == 0 {
			return ""
		}
		return e.Components[0].Tpl
	}
	return e.Tpl
}

// Key identifies an entry by content: the template id for stacks, a digest of the
// component list for groups. Two identical groups share a key.
func (e Entry) Key() string {
	if e.Kind == KindStack {
		return e.Tpl
	}
	b, _ := json.Marshal(e.Components)
	sum := sha256.Sum256(b)
	return "group:" + hex.EncodeToString(sum[:])
}

type stackJSON struct {
	Tpl   string `json:"tpl"`
	Count int    `json:"count"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindStack:
		return json.Marshal(stackJSON{Tpl: e.Tpl, Count: e.Count})
	case KindGroup:
		if e.Components == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(e.Components)
	default:
		return nil, fmt.Errorf("ledger: entry has no kind")
	}
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("ledger: empty entry")
	}
	switch b[0] {
	case '{':
		var s stackJSON
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = Stack(s.Tpl, s.Count)
		return nil
	case '[':
		var comps []Component
		if err := json.Unmarshal(b, &comps); err != nil {
			return err
		}
		*e = Entry{Kind: KindGroup, Components: comps}
		return nil
	default:
		return fmt.Errorf("ledger: entry must be an object or an array")
	}
}
