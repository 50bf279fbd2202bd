package reconcile

import (
	"sync"

	"github.com/sirupsen/logrus"
)

//lanes runs tasks serially per key while different keys proceed in parallel. A goroutine is started for a key when
//its first task arrives and exits once the key's queue is empty.
type lanes struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{pending: make(map[string][]func())}
}

//Do queues task on the lane for key
func (l *lanes) Do(key string, task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	queued, running := l.pending[key]
	l.pending[key] = append(queued, task)
	if running {
		return
	}
	l.wg.Add(1)
	go l.drain(key)
}

func (l *lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		queued := l.pending[key]
		if len(queued) == 0 {
			delete(l.pending, key)
			l.mu.Unlock()
			return
		}
		task := queued[0]
		queued[0] = nil
		l.pending[key] = queued[1:]
		l.mu.Unlock()
		runRecovered(key, task)
	}
}

//Wait blocks until every lane is idle
func (l *lanes) Wait() {
	l.wg.Wait()
}

func runRecovered(key string, task func()) {
	//Prevent panic from crashing the whole bot
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Handler for lane %v panicked: %v", key, r)
		}
	}()
	task()
}
