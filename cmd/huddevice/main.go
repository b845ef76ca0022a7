// Command huddevice is the demo device process: it opens a serial
// transport, runs the Stream Router over it, and drains the IMGF/MSGF
// receivers on the other end so an operator can watch frames arrive.
// Grounded on cmd/ntrip-client/main.go's flag parsing and
// signal-driven graceful shutdown shape, same as cmd/hudhost.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/hudlink/config"
	"github.com/bramburn/hudlink/device/imgf"
	"github.com/bramburn/hudlink/device/msgf"
	"github.com/bramburn/hudlink/device/router"
	"github.com/bramburn/hudlink/frame"
	"github.com/bramburn/hudlink/internal/errs"
	hudserial "github.com/bramburn/hudlink/transport/serial"
)

// deviceListener logs drops from both the IMGF and MSGF receivers;
// its single-argument OnFrameDropped matches both packages' Listener
// interfaces structurally, so one value satisfies both.
type deviceListener struct {
	log *logrus.Logger
}

func (l deviceListener) OnFrameDropped(reason errs.FrameDropReason) {
	l.log.Warnf("huddevice: frame dropped: %s", reason)
}

func main() {
	portName := flag.String("port", "", "serial port device (e.g. /dev/ttyACM0); empty lists available ports")
	configPath := flag.String("config", "", "path to a device config YAML file; empty uses defaults")
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

	cfg := config.DefaultDeviceConfig()
	if *configPath != "" {
		cfg, err = config.LoadDeviceConfig(*configPath)
		if err != nil {
			log.Fatalf("loading device config: %v", err)
		}
	}

	port, err := hudserial.Open(*portName, hudserial.DefaultConfig())
	if err != nil {
		log.Fatalf("opening serial port: %v", err)
	}
	defer port.Close()

	listener := deviceListener{log: log}
	imgRecv := imgf.New(cfg.MaxPngBytes, cfg.RequireCRC, imgf.DropOld, listener)
	msgRecv := msgf.New(cfg.MaxMsgBytes, cfg.QueueDepth, cfg.RequireCRC, listener)

	r := router.New(port, cfg.ReadChunk, log)
	r.Register(imgRecv)
	r.Register(msgRecv)

	stop := make(chan struct{})
	go r.Run(stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go drainMsgf(msgRecv, log, stop)
	go drainImgf(imgRecv, log, stop)

	log.Infof("huddevice listening on %s", *portName)
	<-sig
	log.Info("shutting down")
	close(stop)
	time.Sleep(50 * time.Millisecond)
}

// drainMsgf polls the MSGF ready-queue and logs each command as it
// arrives (spec.md §4.8's consumer side: "Pop is non-blocking").
func drainMsgf(recv *msgf.Receiver, log *logrus.Logger, stop <-chan struct{}) {
	buf := make([]byte, 64)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, seq, ok := recv.Pop(buf)
			if !ok {
				continue
			}
			logMsgf(log, buf[:n], seq)
		}
	}
}

func logMsgf(log *logrus.Logger, body []byte, seq uint32) {
	if len(body) == 0 {
		return
	}
	switch body[0] {
	case frame.CmdSnapshot:
		snap, ok := frame.DecodeSnapshotPayload(body[1:])
		if !ok {
			log.Warnf("huddevice: malformed snapshot payload, seq=%d", seq)
			return
		}
		log.Infof("huddevice: snapshot seq=%d speed=%dkm/h rpm=%d", seq, snap.SpeedKmh, snap.RpmEngine)
	case frame.CmdReboot:
		log.Infof("huddevice: reboot command seq=%d", seq)
	default:
		log.Warnf("huddevice: unknown MSGF command 0x%02x seq=%d", body[0], seq)
	}
}

// drainImgf polls the IMGF double buffer for a ready PNG, logs its
// size, and releases the slot back to the pool (spec.md §4.7).
func drainImgf(recv *imgf.Receiver, log *logrus.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			png, seq, token, ok := recv.GetReady()
			if !ok {
				continue
			}
			log.Infof("huddevice: track image seq=%d bytes=%d", seq, len(png))
			recv.Release(token)
		}
	}
}
