package state

import "sync"

// subscriber hands states to one callback on its own goroutine so a slow
// observer never stalls the controller or other observers.
type subscriber struct {
	fn   func(ViewState)
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	queue []ViewState
}

func newSubscriber(fn func(ViewState)) *subscriber {
	return &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscriber) push(v ViewState) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			v := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(v)
		}
	}
}
