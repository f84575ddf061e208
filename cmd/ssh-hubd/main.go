// Command ssh-hubd drives a Surface Serial Hub controller over a UART,
// republishing its events onto Redis and exposing Prometheus metrics.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linux-surface/ssh-hubd/pkg/eventbus"
	"github.com/linux-surface/ssh-hubd/pkg/metrics"
	"github.com/linux-surface/ssh-hubd/pkg/platform"
	"github.com/linux-surface/ssh-hubd/pkg/ssh"
	"github.com/linux-surface/ssh-hubd/pkg/transport"
)

var (
	serialDevice = flag.String("serial", "/dev/ttyS1", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	parity       = flag.String("parity", "none", "UART parity (none, even, odd)")
	flowControl  = flag.String("flow-control", "none", "UART flow control (none, rtscts)")

	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")

	metricsAddr = flag.String("metrics-addr", ":9180", "Prometheus metrics listen address")

	eventWorkers = flag.Int("event-workers", 4, "Number of concurrent event dispatch workers")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("starting ssh-hubd")
	log.Printf("serial device: %s baud: %d", *serialDevice, *baudRate)
	log.Printf("redis address: %s", *redisAddr)

	bus, err := eventbus.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer bus.Close()
	log.Printf("connected to redis")

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Printf("metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	uart := transport.New(*serialDevice)
	resolver := platform.FlagResolver{
		BaudRate:    *baudRate,
		Parity:      *parity,
		FlowControl: *flowControl,
	}

	controller := ssh.New(ssh.Options{
		Transport:    uart,
		Platform:     resolver,
		Metrics:      collector,
		EventWorkers: *eventWorkers,
	})

	// Republish every event class seen across the 63-entry registry onto
	// Redis, unless a tighter deployment wants to scope this down to the
	// rqids its client drivers actually enable.
	for rqid := uint16(1); rqid <= ssh.EventMask; rqid++ {
		if err := controller.SetEventHandler(rqid, bus.PublishEvent, nil); err != nil {
			log.Fatalf("failed to install event handler for rqid=%d: %v", rqid, err)
		}
	}

	if err := controller.Initialize(); err != nil {
		log.Fatalf("failed to initialize controller: %v", err)
	}
	log.Printf("controller initialized")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// A second channel carries the power-management hooks: SIGTSTP
	// suspends the controller, SIGCONT resumes it.
	pmCh := make(chan os.Signal, 1)
	signal.Notify(pmCh, syscall.SIGTSTP, syscall.SIGCONT)
	go func() {
		for sig := range pmCh {
			switch sig {
			case syscall.SIGTSTP:
				if err := controller.Suspend(); err != nil {
					log.Printf("suspend error: %v", err)
				} else {
					log.Printf("controller suspended")
				}
			case syscall.SIGCONT:
				if err := controller.Resume(); err != nil {
					log.Printf("resume error: %v", err)
				} else {
					log.Printf("controller resumed")
				}
			}
		}
	}()

	<-sigCh

	log.Printf("shutting down...")
	if err := controller.Teardown(); err != nil {
		log.Printf("teardown error: %v", err)
	}
}
