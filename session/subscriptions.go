package session

import "streamflow/models"

// subscriptionSet is the session's logical view of what the server streams.
// It is only ever touched under the session lock.
type subscriptionSet struct {
	entries []*models.Subscription
}

func (s *subscriptionSet) reset() {
	s.entries = nil
}

func (s *subscriptionSet) len() int {
	return len(s.entries)
}

func (s *subscriptionSet) snapshot() []*models.Subscription {
	out := make([]*models.Subscription, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	return out
}

// apply folds an accepted subscription into the set following its command.
func (s *subscriptionSet) apply(sub *models.Subscription) {
	switch sub.Kind() {
	case models.KindSymbolField:
		s.applySymbolField(sub)
	case models.KindDuration:
		s.applyDuration(sub)
	default:
		s.applyRaw(sub)
	}
}

func (s *subscriptionSet) indexOf(match func(*models.Subscription) bool) int {
	for i, e := range s.entries {
		if match(e) {
			return i
		}
	}
	return -1
}

func (s *subscriptionSet) remove(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}

func (s *subscriptionSet) applySymbolField(sub *models.Subscription) {
	i := s.indexOf(func(e *models.Subscription) bool {
		return e.Kind() == models.KindSymbolField && e.Service() == sub.Service()
	})

	switch sub.Command() {
	case models.CommandSubs:
		entry := sub.Clone()
		entry.SetCommand(models.CommandSubs)
		if i >= 0 {
			s.entries[i] = entry
		} else {
			s.entries = append(s.entries, entry)
		}
	case models.CommandAdd:
		if i < 0 {
			entry := sub.Clone()
			entry.SetCommand(models.CommandSubs)
			s.entries = append(s.entries, entry)
			return
		}
		existing := s.entries[i]
		existing.SetSymbols(append(existing.Symbols(), sub.Symbols()...))
		existing.SetFields(sub.Fields())
	case models.CommandView:
		if i >= 0 {
			s.entries[i].SetFields(sub.Fields())
		}
	case models.CommandUnsubs:
		if i < 0 {
			return
		}
		drop := make(map[string]struct{})
		for _, sym := range sub.Symbols() {
			drop[sym] = struct{}{}
		}
		var keep []string
		for _, sym := range s.entries[i].Symbols() {
			if _, ok := drop[sym]; !ok {
				keep = append(keep, sym)
			}
		}
		if len(keep) == 0 {
			s.remove(i)
			return
		}
		s.entries[i].SetSymbols(keep)
	}
}

func (s *subscriptionSet) applyDuration(sub *models.Subscription) {
	i := s.indexOf(func(e *models.Subscription) bool {
		return e.Kind() == models.KindDuration && e.Service() == sub.Service() && e.ActivesKey() == sub.ActivesKey()
	})
	if sub.Command() == models.CommandUnsubs {
		if i >= 0 {
			s.remove(i)
		}
		return
	}
	if i < 0 {
		entry := sub.Clone()
		entry.SetCommand(models.CommandSubs)
		s.entries = append(s.entries, entry)
	}
}

func (s *subscriptionSet) applyRaw(sub *models.Subscription) {
	if s.indexOf(sub.Equal) >= 0 {
		return
	}
	s.entries = append(s.entries, sub.Clone())
}
