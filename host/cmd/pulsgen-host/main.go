// Command pulsgen-host is an interactive shell for a pulse generator
// co-processor, with an optional MQTT bridge.
//
//	pulsgen-host -config machine.json
//	pulsgen-host -device sim
//	pulsgen-host -e status x
//	pulsgen-host -ports
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"pulsgen/core"
	"pulsgen/host/bridge"
	"pulsgen/host/config"
	"pulsgen/host/mcu"
	"pulsgen/host/serial"
	"pulsgen/host/sim"
)

const simDevice = "sim"

var (
	configPath = flag.String("config", "", "JSON configuration file")
	device     = flag.String("device", "", "Serial device path, or \"sim\" for the simulated device")
	evalOnly   = flag.Bool("e", false, "Evaluation only, no interactive shell.")
	outputJSON = flag.Bool("json", false, "Print output in JSON.")
	listPorts  = flag.Bool("ports", false, "List candidate serial devices and exit.")
)

// Host is the state shared by the shell commands
type Host struct {
	Config     *config.Config
	MCU        *mcu.MCU
	Sim        *sim.Device // Set when running against the simulator
	OutputJSON bool

	ctx    context.Context
	cancel func()
	closer []func()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *evalOnly && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "command expected")
		os.Exit(1)
	}

	h := &Host{Config: cfg, MCU: mcu.NewMCU(), OutputJSON: *outputJSON}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	if err := h.Start(); err != nil {
		glog.Errorf("start: %v", err)
		h.Close()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	shell := ishell.New()
	shell.Set(hostKey, h)
	shell.SetPrompt(cfg.Device + " > ")
	for _, cmd := range commands {
		shell.AddCmd(cmd)
	}

	if args := flag.Args(); len(args) > 0 {
		if err := shell.Process(args...); err != nil {
			h.Close()
			glog.Flush()
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	shell.Run()
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfigFile(*configPath); err != nil {
			return nil, err
		}
	}
	if *device != "" {
		cfg.Device = *device
	}
	return cfg, nil
}

// Start connects the device, binds the configured channels and starts the
// keepalive and the MQTT bridge
func (h *Host) Start() error {
	cfg := h.Config
	h.MCU.QueryTimeout = cfg.QueryTimeout()

	if cfg.Device == simDevice {
		h.startSim()
	} else {
		glog.Infof("connecting to %s", cfg.Device)
		err := h.MCU.ConnectWithConfig(&serial.Config{
			Device:      cfg.Device,
			Baud:        cfg.Baud,
			ReadTimeout: time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return err
		}
	}
	h.closer = append(h.closer, func() { h.MCU.Close() })

	if err := h.MCU.Ping(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, ch := range cfg.Channels {
		if err := h.MCU.SetupPin(ch.Channel, ch.Port, ch.Pin, ch.Inverted); err != nil {
			return fmt.Errorf("setup %s: %w", ch.Name, err)
		}
	}

	if cfg.WatchdogMs > 0 {
		if err := h.MCU.SetWatchdog(cfg.Watchdog()); err != nil {
			return fmt.Errorf("watchdog: %w", err)
		}
	}
	if period := cfg.KeepAlive(); period > 0 {
		go h.MCU.KeepAlive(h.ctx, period)
	}

	if cfg.MQTT.URL != "" {
		return h.startBridge()
	}
	return nil
}

// startSim runs a simulated device behind an in-memory pipe
func (h *Host) startSim() {
	glog.Info("using simulated device")
	hostConn, devConn := net.Pipe()
	dev := sim.NewDevice(devConn, nil)
	h.Sim = dev

	core.SetDebugWriter(func(s string) {
		glog.V(1).Info(strings.TrimRight(s, "\n"))
	})
	core.SetDebugEnabled(bool(glog.V(1)))
	core.InitAsyncDebug()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dev.Run(h.ctx); err != nil && err != context.Canceled {
			glog.Warningf("sim: %v", err)
		}
	}()
	h.closer = append(h.closer, func() {
		devConn.Close()
		<-done
	})
	h.MCU.Attach(serial.PipePort{ReadWriteCloser: hostConn})
}

func (h *Host) startBridge() error {
	broker, err := bridge.NewPahoBroker(h.Config.MQTT.URL)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := broker.Connect(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	h.closer = append(h.closer, func() { broker.Close() })

	b := bridge.New(broker, h.MCU, h.Config.Channels)
	if err := b.Start(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	go b.Run(h.ctx, h.Config.StatusInterval())
	glog.Infof("mqtt bridge on %s", h.Config.MQTT.URL)
	return nil
}

// Close stops the background loops and disconnects the device
func (h *Host) Close() {
	h.cancel()
	for i := len(h.closer) - 1; i >= 0; i-- {
		h.closer[i]()
	}
	h.closer = nil
}
