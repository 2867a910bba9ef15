package metrics

// Wrapper provides nil-safe access to the metrics set so components can take
// an optional *Wrapper and skip every nil check at the call sites.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wraps a metrics set; a nil argument yields a no-op wrapper.
func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) ok() bool { return w != nil && w.m != nil }

func (w *Wrapper) SignalReceived() {
	if w.ok() {
		w.m.SignalsReceived.Inc()
	}
}

func (w *Wrapper) SignalParsed() {
	if w.ok() {
		w.m.SignalsParsed.Inc()
	}
}

func (w *Wrapper) SignalRejected() {
	if w.ok() {
		w.m.SignalsRejected.Inc()
	}
}

func (w *Wrapper) SignalExecuted() {
	if w.ok() {
		w.m.SignalsExecuted.Inc()
	}
}

func (w *Wrapper) OrderPlaced() {
	if w.ok() {
		w.m.OrdersTotal.Inc()
	}
}

func (w *Wrapper) OrderRetried() {
	if w.ok() {
		w.m.OrderRetries.Inc()
	}
}

func (w *Wrapper) OrderFailed() {
	if w.ok() {
		w.m.OrderFailures.Inc()
	}
}

func (w *Wrapper) ObserveOrderLatency(seconds float64) {
	if w.ok() {
		w.m.OrderLatency.Observe(seconds)
	}
}

func (w *Wrapper) SetPositionsOpen(n int) {
	if w.ok() {
		w.m.PositionsOpen.Set(float64(n))
	}
}

func (w *Wrapper) TargetHit() {
	if w.ok() {
		w.m.TargetsHit.Inc()
	}
}

func (w *Wrapper) StopHit() {
	if w.ok() {
		w.m.StopsHit.Inc()
	}
}

func (w *Wrapper) AddPnL(delta float64) {
	if w.ok() {
		w.m.PnLTotal.Add(delta)
	}
}

func (w *Wrapper) WSReconnect() {
	if w.ok() {
		w.m.WSReconnects.Inc()
	}
}

func (w *Wrapper) Error() {
	if w.ok() {
		w.m.ErrorsTotal.Inc()
	}
}
