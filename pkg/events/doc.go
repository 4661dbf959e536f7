/*
Package events provides an in-memory broker for task change notifications.

The reconciler publishes an event whenever a sync writes a task whose state
changed; commands that watch a sync subscribe to print them:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for e := range sub {
		fmt.Printf("%s %s/%s %s\n", e.Type, e.ClusterID, e.TaskID, e.State)
	}

Publishing never blocks on a slow subscriber. Each subscriber has a buffer
of 50 events and misses events while it is full.
*/
package events
