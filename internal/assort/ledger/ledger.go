package ledger

// Ledger is the ordered list of entries the trader currently offers.
type Ledger []Entry

func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for i, e := range l {
		if e.Kind == KindGroup {
			e = Group(e.Components)
		}
		out[i] = e
	}
	return out
}

// FindStack returns the index of the first stack with the given template, or -1.
func (l Ledger) FindStack(tpl string) int {
	for i, e := range l {
		if e.Kind == KindStack && e.Tpl == tpl {
			return i
		}
	}
	return -1
}

// AddStack merges count into the first stack of tpl, or appends a new stack.
// It reports whether an existing stack was merged into.
func (l *Ledger) AddStack(tpl string, count int) bool {
	if tpl == "" || count <= 0 {
		return false
	}
	if i := l.FindStack(tpl); i >= 0 {
		(*l)[i].Count += count
		return true
	}
	*l = append(*l, Stack(tpl, count))
	return false
}

// TakeStack subtracts count from the stack at i. A stack that reaches zero or
// below is removed; it reports whether that happened.
func (l *Ledger) TakeStack(i, count int) bool {
	if i < 0 || i >= len(*l) || (*l)[i].Kind != KindStack {
		return false
	}
	(*l)[i].Count -= count
	if (*l)[i].Count <= 0 {
		l.Remove(i)
		return true
	}
	return false
}

func (l *Ledger) Remove(i int) {
	if i < 0 || i >= len(*l) {
		return
	}
	*l = append((*l)[:i], (*l)[i+1:]...)
}

func (l *Ledger) AppendGroup(components []Component) {
	*l = append(*l, Group(components))
}

// Compact drops entries that must never be persisted: empty groups and
// stacks without a positive count.
func (l Ledger) Compact() Ledger {
	out := make(Ledger, 0, len(l))
	for _, e := range l {
		if !e.Valid() {
			continue
		}
		out = append(out, e)
	}
	return out
}
