package buffet

// PickNext returns the first Pending task in creation order, or nil when
// none remain. It does not modify b.
func PickNext(b *Buffet) *Task {
	for _, t := range b.Tasks {
		if t.State == StatePending {
			return t
		}
	}
	return nil
}
