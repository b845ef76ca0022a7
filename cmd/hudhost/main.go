// Command hudhost is the demo host process: it opens a serial
// transport, wires up the host engine, and feeds it a synthetic
// vehicle-state and GPS stream so an operator can watch frames go out
// over the wire. Grounded on cmd/ntrip-client/main.go's flag parsing
// and signal-driven graceful shutdown shape.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/hudlink/config"
	"github.com/bramburn/hudlink/host"
	"github.com/bramburn/hudlink/host/gps"
	"github.com/bramburn/hudlink/host/mapfetch"
	"github.com/bramburn/hudlink/host/store"
	"github.com/bramburn/hudlink/provider"
	hudserial "github.com/bramburn/hudlink/transport/serial"
)

func main() {
	portName := flag.String("port", "", "serial port device (e.g. /dev/ttyACM0); empty lists available ports")
	configPath := flag.String("config", "", "path to a host config YAML file; empty uses defaults")
	mapURL := flag.String("map-url", "", "map image provider URL; empty disables map fetching")
	mapUser := flag.String("map-user", "", "map image provider basic auth username")
	mapPass := flag.String("map-pass", "", "map image provider basic auth password")
	logLevel := flag.String("log-level", "info", "logrus log level")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if *portName == "" {
		ports, err := hudserial.ListPorts()
		if err != nil {
			log.Fatalf("listing serial ports: %v", err)
		}
		fmt.Println("available serial ports:")
		for _, p := range ports {
			fmt.Println(" ", p)
		}
		return
	}

	cfg := config.DefaultHostConfig()
	if *configPath != "" {
		cfg, err = config.LoadHostConfig(*configPath)
		if err != nil {
			log.Fatalf("loading host config: %v", err)
		}
	}

	port, err := hudserial.Open(*portName, hudserial.DefaultConfig())
	if err != nil {
		log.Fatalf("opening serial port: %v", err)
	}

	var mapProvider mapfetch.Provider
	if *mapURL != "" {
		mapProvider = provider.New(provider.Config{
			URL:         *mapURL,
			Username:    *mapUser,
			Password:    *mapPass,
			MaxPngBytes: cfg.MaxPngBytes,
		})
	}

	listener := host.LoggingListener{Log: log}
	engine := host.New(cfg, port, mapProvider, listener, log)
	engine.Start()
	log.Infof("hudhost started on %s", *portName)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go simulateVehicle(engine)

	<-stop
	log.Info("shutting down")
	if err := engine.Stop(time.Second); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func simulateVehicle(engine *host.Engine) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	speed := int32(0)
	lat, lon := 37.7749, -122.4194

	for range ticker.C {
		speed = (speed + int32(rand.Intn(5))) % 140
		engine.SetField(store.FieldSpeedKmh, speed)

		lat += 0.0001
		lon += 0.0001
		engine.IngestGps(gps.Point{Lat: lat, Lon: lon, TimestampMs: time.Now().UnixMilli()})
	}
}
