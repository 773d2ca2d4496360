package pipeio

// signal is an edge-triggered wake-up with a single pending slot. A notify
// posted while nobody waits is kept for the next waiter, and repeated
// notifies collapse into one.
type signal chan struct{}

func newSignal() signal {
	return make(signal, 1)
}

func (s signal) notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// counter carries byte counts to a single consumer. Counts posted while the
// consumer is away are summed rather than dropped.
type counter chan int

func newCounter() counter {
	return make(counter, 1)
}

// post must only be called from one goroutine.
func (c counter) post(n int) {
	for {
		select {
		case c <- n:
			return
		default:
		}
		select {
		case pending := <-c:
			n += pending
		default:
		}
	}
}
