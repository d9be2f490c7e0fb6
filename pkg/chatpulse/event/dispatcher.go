package event

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher routes events to registered consumers. Pure fan-out: no
// business logic, no filtering beyond the event type. Handlers run on the
// publishing goroutine and must not block.
type Dispatcher struct {
	log *logrus.Entry

	mu           sync.RWMutex
	stateChanged []func(StateChanged)
	pairingCode  []func(PairingCode)
	ready        []func(Ready)
	message      []func(MessageReceived)
	acked        []func(MessageAcked)
	disconnected []func(Disconnected)
	sessionErr   []func(SessionError)
}

func NewDispatcher(log *logrus.Entry) *Dispatcher {
	return &Dispatcher{log: log}
}

func (d *Dispatcher) OnStateChanged(fn func(StateChanged)) {
	d.mu.Lock()
	d.stateChanged = append(d.stateChanged, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) OnPairingCode(fn func(PairingCode)) {
	d.mu.Lock()
	d.pairingCode = append(d.pairingCode, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) OnReady(fn func(Ready)) {
	d.mu.Lock()
	d.ready = append(d.ready, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) OnMessageReceived(fn func(MessageReceived)) {
	d.mu.Lock()
	d.message = append(d.message, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) OnMessageAcked(fn func(MessageAcked)) {
	d.mu.Lock()
	d.acked = append(d.acked, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) OnDisconnected(fn func(Disconnected)) {
	d.mu.Lock()
	d.disconnected = append(d.disconnected, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) OnSessionError(fn func(SessionError)) {
	d.mu.Lock()
	d.sessionErr = append(d.sessionErr, fn)
	d.mu.Unlock()
}

// Publish delivers ev to every consumer registered for its variant.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch e := ev.(type) {
	case StateChanged:
		for _, fn := range d.stateChanged {
			fn(e)
		}
	case PairingCode:
		for _, fn := range d.pairingCode {
			fn(e)
		}
	case Ready:
		for _, fn := range d.ready {
			fn(e)
		}
	case MessageReceived:
		for _, fn := range d.message {
			fn(e)
		}
	case MessageAcked:
		for _, fn := range d.acked {
			fn(e)
		}
	case Disconnected:
		for _, fn := range d.disconnected {
			fn(e)
		}
	case SessionError:
		for _, fn := range d.sessionErr {
			fn(e)
		}
	default:
		if d.log != nil {
			d.log.Warnf("Dropping event of unknown variant %T", ev)
		}
	}
}
