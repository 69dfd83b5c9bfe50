package webhook

import "sync"

// store keeps the hooks indexed by id and by action.
type store struct {
	lock     sync.RWMutex
	hooks    map[string]*Webhook
	byAction map[Action][]string
}

func newStore() *store {
	return &store{
		hooks:    make(map[string]*Webhook),
		byAction: make(map[Action][]string),
	}
}

// add returns false if a hook with the same id is already stored.
func (s *store) add(hook *Webhook) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.hooks[hook.ID]; ok {
		return false
	}
	s.hooks[hook.ID] = hook
	s.byAction[hook.ActionType] = append(s.byAction[hook.ActionType], hook.ID)
	return true
}

func (s *store) remove(id string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	hook, ok := s.hooks[id]
	if !ok {
		return
	}
	delete(s.hooks, id)

	ids := s.byAction[hook.ActionType]
	for i, hookID := range ids {
		if hookID == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) <= 0 {
		delete(s.byAction, hook.ActionType)
		return
	}
	s.byAction[hook.ActionType] = ids
}

func (s *store) list() []*Webhook {
	s.lock.RLock()
	defer s.lock.RUnlock()

	hooks := make([]*Webhook, 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	return hooks
}

func (s *store) listForAction(action Action) []*Webhook {
	s.lock.RLock()
	defer s.lock.RUnlock()

	ids := s.byAction[action]
	hooks := make([]*Webhook, 0, len(ids))
	for _, id := range ids {
		hooks = append(hooks, s.hooks[id])
	}
	return hooks
}
