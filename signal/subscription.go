package signal

type Subscription interface {
	Unsubscribe()
}

type subs struct {
	bus     *Bus
	msgType string
	id      uint64
	all     bool
}

func (s *subs) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.all {
		b.all = without(b.all, s.id)
		return
	}
	b.handlers[s.msgType] = without(b.handlers[s.msgType], s.id)
}

func without(list []*entry, id uint64) []*entry {
	out := make([]*entry, 0, len(list))
	for _, e := range list {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}
