// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package surface

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// actionQueue collects work from other goroutines that has to run on the
// goroutine driving the frames.
type actionQueue struct {
	mutex   sync.Mutex
	actions []func() error
}

func (q *actionQueue) add(fn func() error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.actions = append(q.actions, fn)
}

// perform runs queued actions in order. The first failure stops the run and
// the remaining actions are dropped.
func (q *actionQueue) perform() error {
	q.mutex.Lock()
	actions := q.actions
	q.actions = nil
	q.mutex.Unlock()

	for i, fn := range actions {
		if err := fn(); err != nil {
			if dropped := len(actions) - i - 1; dropped > 0 {
				log.WithField("dropped", dropped).Warn("surface action failed, dropping the rest")
			}
			return err
		}
	}
	return nil
}

func (q *actionQueue) clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.actions = nil
}

func (q *actionQueue) pending() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.actions)
}
