/*
Package health probes cluster nodes.

TCPChecker dials an address and reports healthy once the connection is
accepted; burrow uses it on a node's SSH endpoint. HTTPChecker issues a GET
and accepts a status in its range, 200-399 by default; burrow points it at a
web UI on a node's internal address.

CheckNodes runs one checker per node with bounded concurrency and returns
the results sorted by node id. A node the checker cannot be built for, such
as an unknown id, gets an unhealthy result rather than failing the call.
*/
package health
