package renderer

/**
 * @brief Defers the release of GPU objects per frame slot. Objects retired while a slot
 * records are released after that slot's fence has been waited on again, by which time
 * every earlier submission has completed as well.
 */
type RetireList struct {
	slots   [][]func()
	current int
}

func NewRetireList(frames int) *RetireList {
	return &RetireList{slots: make([][]func(), max(frames, 1))}
}

// SetCurrent selects the slot new retirements are queued on.
func (r *RetireList) SetCurrent(slot int) {
	if slot >= 0 && slot < len(r.slots) {
		r.current = slot
	}
}

func (r *RetireList) Retire(release func()) {
	if release == nil {
		return
	}
	r.slots[r.current] = append(r.slots[r.current], release)
}

// Flush releases everything queued on a slot, in retirement order.
func (r *RetireList) Flush(slot int) {
	if slot < 0 || slot >= len(r.slots) {
		return
	}
	queued := r.slots[slot]
	r.slots[slot] = nil
	for _, release := range queued {
		release()
	}
}

// FlushAll is only valid while the device is idle.
func (r *RetireList) FlushAll() {
	for i := range r.slots {
		r.Flush(i)
	}
}

func (r *RetireList) Pending(slot int) int {
	if slot < 0 || slot >= len(r.slots) {
		return 0
	}
	return len(r.slots[slot])
}
