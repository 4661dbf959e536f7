package main

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/cluster"
	"github.com/cuemby/burrow/pkg/clusterdata"
	"github.com/cuemby/burrow/pkg/credentials"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/logs"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/remotelogin"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/tracking"
)

// app holds the components a command works with
type app struct {
	ops    *cluster.Operations
	store  storage.Store
	broker *events.Broker
}

func (a *app) Close() error {
	a.broker.Stop()
	return a.store.Close()
}

// openApp wires every component from the loaded configuration
func openApp() (*app, error) {
	channel, err := remote.NewSSHChannel(remote.SSHConfig{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		ContainerCLI:   cfg.SSH.ContainerCLI,
	})
	if err != nil {
		return nil, err
	}

	inv, err := scheduler.LoadInventory(cfg.Scheduler.Inventory)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.NewInventoryClient(inv, channel, cfg.Fanout.Timeout)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir, storage.EtcdConfig{
		Endpoints:   cfg.Storage.EtcdEndpoints,
		Prefix:      cfg.Storage.EtcdPrefix,
		DialTimeout: cfg.Storage.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	resolver := remotelogin.NewResolver(sched, cfg.SSH.Port)
	executor := fanout.NewExecutor(channel, resolver, cfg.Fanout.MaxConcurrency)
	tasks := tracking.NewStore(store)
	recon := reconciler.NewReconciler(sched, tasks)
	broker := events.NewBroker()
	broker.Start()
	recon.SetBroker(broker)

	ops := cluster.New(cluster.Deps{
		Scheduler:   sched,
		Executor:    executor,
		Resolver:    resolver,
		Credentials: credentials.NewManager(sched, cfg.Fanout.MaxConcurrency),
		Tracking:    tasks,
		Reconciler:  recon,
		Logs: logs.NewService(recon, sched, executor, logs.Config{
			PathTemplate: cfg.Logs.PathTemplate,
			Container:    cfg.Logs.Container,
			Timeout:      cfg.Fanout.Timeout,
			Credentials:  sched.AdminCredentials(),
		}),
		Data: clusterdata.NewData(store, cfg.Security.Passphrase),
	})
	return &app{ops: ops, store: store, broker: broker}, nil
}

// withApp runs fn with a freshly wired app and closes it afterwards
func withApp(fn func(*app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
