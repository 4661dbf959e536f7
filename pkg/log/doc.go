/*
Package log provides structured logging for burrow using zerolog.

Init configures the global Logger once at startup. Components derive child
loggers that carry their name:

	logger := log.WithComponent("fanout")
	logger.Info().Int("nodes", n).Msg("Dispatching")

WithClusterID, WithNodeID and WithTaskID add the identifiers of what an
operation is acting on to such a logger:

	nodeLogger := log.WithNodeID(logger, clusterID, nodeID)
	nodeLogger.Warn().Err(err).Msg("Node operation failed")

Logs are written to stderr so command output on stdout stays clean. Console
output is the default; JSONOutput switches to one JSON object per line.
*/
package log
