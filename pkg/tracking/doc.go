// Package tracking stores one table of task records per cluster on top of a
// storage.TableStore. Rows are JSON encoded types.Task values keyed by task
// id. Tables are only ever dropped whole; an update older than the stored
// row's state transition is rejected with a Conflict.
package tracking
