package korvus

// Metrics is the counters interface a caller can wire in to observe the
// dispatch pipeline. All methods must be safe for concurrent use. A nil
// Metrics is treated as a no-op throughout this package.
type Metrics interface {
	MessageSent()
	MessageReceived()
	MessageDropped(reason string)
	WaiterRegistered()
	WaiterDispatched()
	WaiterEvicted()
}

type noopMetrics struct{}

func (noopMetrics) MessageSent()          {}
func (noopMetrics) MessageReceived()      {}
func (noopMetrics) MessageDropped(string) {}
func (noopMetrics) WaiterRegistered()     {}
func (noopMetrics) WaiterDispatched()     {}
func (noopMetrics) WaiterEvicted()        {}

// metricsAdapter satisfies internal/consumer.Metrics and
// internal/producer.Metrics over the public Metrics interface, keeping
// those internal packages free of a dependency on the root package.
type metricsAdapter struct{ m Metrics }

func (a metricsAdapter) MessageSent()                 { a.m.MessageSent() }
func (a metricsAdapter) MessageReceived()             { a.m.MessageReceived() }
func (a metricsAdapter) MessageDropped(reason string) { a.m.MessageDropped(reason) }
func (a metricsAdapter) WaiterRegistered()            { a.m.WaiterRegistered() }
func (a metricsAdapter) WaiterDispatched()            { a.m.WaiterDispatched() }
func (a metricsAdapter) WaiterEvicted()               { a.m.WaiterEvicted() }
