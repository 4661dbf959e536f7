/*
Package metrics defines burrow's Prometheus collectors.

Collectors are registered with the default registry when the package is
loaded and served by Handler:

	burrow_fanout_operations_total{operation}
	burrow_fanout_node_results_total{operation,result}
	burrow_fanout_duration_seconds{operation}
	burrow_remote_exec_duration_seconds
	burrow_users_total{operation,result}
	burrow_tracking_operations_total{operation,result}
	burrow_reconciler_source_total{source}
	burrow_reconciler_read_repairs_total
	burrow_log_bytes_fetched_total

Timer measures an operation and observes it into a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RemoteExecDuration)
*/
package metrics
