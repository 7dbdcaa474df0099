// Command worker runs the scheduled maintenance jobs and delivers queued
// notifications.
//
//	worker            run the scheduler and the notification consumer
//	worker -run NAME  run one job now and exit
//	worker -list      print the registered jobs
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/app"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	runOnce := flag.String("run", "", "run a single job and exit")
	list := flag.Bool("list", false, "list the jobs and exit")
	metricsAddr := flag.String("metrics", os.Getenv("WORKER_METRICS_ADDR"), "address for /metrics, empty to disable")
	flag.Parse()

	logger.Init(os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Fatalf("failed to initialise services: %v", err)
	}
	defer a.Close(context.Background())
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	if *list {
		for _, name := range a.Runner.Jobs() {
			fmt.Println(name)
		}
		return
	}
	if *runOnce != "" {
		run, err := a.Runner.Run(ctx, *runOnce)
		if err != nil {
			logger.Errorf("job %s: %v", *runOnce, err)
			os.Exit(1)
		}
		fmt.Printf("%s %s %v\n", run.Job, run.Status, run.Result)
		return
	}

	if a.Mongo == nil {
		logger.Warnf("worker is running on in-memory repositories; jobs will not see API data")
	}

	c := cron.New(cron.WithLocation(cfg.Location()))
	if err := a.Runner.Schedule(ctx, c); err != nil {
		logger.Fatalf("schedule jobs: %v", err)
	}
	c.Start()
	logger.Infof("scheduler started with %d jobs", len(c.Entries()))

	consumerDone := make(chan struct{})
	if q, ok := a.Queue.(*notifications.RedisQueue); ok {
		go func() {
			defer close(consumerDone)
			if err := q.Consume(ctx, a.Dispatcher); err != nil {
				logger.Errorf("notification consumer stopped: %v", err)
			}
		}()
	} else {
		logger.Warnf("redis is not configured; notifications are delivered inline by the API")
		close(consumerDone)
	}

	var msrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		msrv = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Infof("worker shutting down")
	// Wait for running jobs to finish.
	<-c.Stop().Done()
	<-consumerDone
	if msrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = msrv.Shutdown(sctx)
	}
}
