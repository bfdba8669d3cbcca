package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/component-base/logs"
	"k8s.io/klog/v2"

	"github.com/kuryr/kuryr-controller/pkg/config"
	"github.com/kuryr/kuryr-controller/pkg/dispatch"
	"github.com/kuryr/kuryr-controller/pkg/drivers"
	"github.com/kuryr/kuryr-controller/pkg/k8sclient"
	"github.com/kuryr/kuryr-controller/pkg/kerrors"
	"github.com/kuryr/kuryr-controller/pkg/lbaas"
	"github.com/kuryr/kuryr-controller/pkg/metrics"
	"github.com/kuryr/kuryr-controller/pkg/retry"
	"github.com/kuryr/kuryr-controller/pkg/watcher"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "kuryr-controller",
		Short: "Reconciles Kubernetes Services and Endpoints onto OpenStack Octavia load balancers",
		RunE:  run,
	}
	root.Flags().StringVar(&configFile, "config", "/etc/kuryr/kuryr-controller.yaml", "path to the controller configuration file")

	logs.InitLogs()
	defer logs.FlushLogs()

	if err := root.Execute(); err != nil {
		logs.FlushLogs()
		os.Exit(1) //nolint:gocritic // flush before exit
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	osConfig, err := config.LoadOpenStackConfig(cfg.OpenStackCloudConfig)
	if err != nil {
		return fmt.Errorf("loading openstack config: %w", err)
	}

	registry, err := drivers.NewRegistry(drivers.RegistryConfig{
		OpenStack:           osConfig,
		ProjectDriverAlias:  cfg.Drivers.Project,
		SubnetsDriverAlias:  cfg.Drivers.PodSubnets,
		SecurityGroupsAlias: cfg.Drivers.SecurityGroups,
		LBaaSDriverAlias:    cfg.Drivers.LBaaS,
	})
	if err != nil {
		return fmt.Errorf("constructing driver registry: %w", err)
	}

	client, err := k8sclient.New(cfg.KubernetesAPIServer, k8sclient.AuthConfig{
		TokenFile:          cfg.TokenFile,
		CertFile:           cfg.CertFile,
		KeyFile:            cfg.KeyFile,
		CAFile:             cfg.CAFile,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return fmt.Errorf("constructing kubernetes client: %w", err)
	}

	exporter := metrics.NewExporter()
	prometheus.MustRegister(exporter)

	retryTimeout, err := cfg.RetryTimeoutOrDefault()
	if err != nil {
		return fmt.Errorf("parsing retryTimeout: %w", err)
	}
	retryInterval, err := cfg.RetryIntervalOrDefault()
	if err != nil {
		return fmt.Errorf("parsing retryInterval: %w", err)
	}

	specHandler := &lbaas.SpecHandler{
		Client:         client,
		Project:        registry.Project,
		Subnets:        registry.ServiceSubnets,
		SecurityGroups: registry.SecurityGroups,
	}
	loadBalancerHandler := &lbaas.LoadBalancerHandler{
		Client:     client,
		LBaaS:      registry.LBaaS,
		PodSubnets: registry.PodSubnets,
	}

	servicesWatcher := newResourceWatcher(client, specHandler, retryTimeout, retryInterval, metrics.HandlerService)
	endpointsWatcher := newResourceWatcher(client, loadBalancerHandler, retryTimeout, retryInterval, metrics.HandlerLoadBalancer)

	servicesWatcher.Add(cfg.ServicesPath)
	endpointsWatcher.Add(cfg.EndpointsPath)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return metrics.Run(groupCtx, cfg.MetricsAddress)
	})
	group.Go(func() error {
		servicesWatcher.Start()
		<-groupCtx.Done()
		servicesWatcher.Stop()
		servicesWatcher.Wait()
		return nil
	})
	group.Go(func() error {
		endpointsWatcher.Start()
		<-groupCtx.Done()
		endpointsWatcher.Stop()
		endpointsWatcher.Wait()
		return nil
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("controller exited: %w", err)
	}
	klog.Info("kuryr-controller shutting down")
	return nil
}

// newResourceWatcher wires a watcher.Watcher that streams watch events for
// handler.ObjectKind() through a retry-wrapped dispatcher, recording a
// reconciliation outcome metric for every event.
func newResourceWatcher(client *k8sclient.Client, handler dispatch.ResourceHandler, retryTimeout, retryInterval time.Duration, handlerLabel string) *watcher.Watcher {
	d := dispatch.New(handler)

	retryHandler := retry.Wrap(func(ctx context.Context, event any) error {
		return d.Dispatch(ctx, event.(dispatch.Event))
	}, retry.Options{Timeout: retryTimeout, Interval: retryInterval})

	deliver := func(ctx context.Context, path string, event watcher.Event) {
		timer := metrics.NewReconcileTimer(handlerLabel)
		err := retryHandler(ctx, dispatch.Event{Type: event.Type, Object: event.Object})
		timer.ObserveOutcome(err)
		if err != nil && !kerrors.IsResourceNotReady(err) {
			klog.ErrorS(err, "reconciliation failed", "path", path, "handler", handlerLabel)
		}
	}

	source := func(ctx context.Context, path string) (<-chan watcher.Event, <-chan error, error) {
		rawEvents, errc, err := client.Watch(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		events := make(chan watcher.Event)
		go func() {
			defer close(events)
			for ev := range rawEvents {
				select {
				case events <- watcher.Event{Type: ev.Type, Object: ev.Object}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return events, errc, nil
	}

	return watcher.New(source, deliver)
}
