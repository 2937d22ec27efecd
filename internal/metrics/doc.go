// Package metrics exports engine activity as Prometheus metrics.
//
// A Collector is a workflow.Observer. Attach it to a manager with
// workflow.WithObserver and register it with a prometheus.Registerer:
//
//	c := metrics.NewCollector(metrics.WithNamespace("hgpeer"))
//	reg.MustRegister(c)
//	mgr := workflow.New(workflow.WithObserver(c))
package metrics
