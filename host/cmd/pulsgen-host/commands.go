package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"pulsgen/core"
	"pulsgen/host/bridge"
)

const hostKey = "$host"

var commands = []*ishell.Cmd{
	&PingCmd,
	&SetupCmd,
	&TaskCmd,
	&PWMCmd,
	&AbortCmd,
	&AbortAllCmd,
	&StatusCmd,
	&PositionCmd,
	&TasksDoneCmd,
	&WatchdogCmd,
	&GPIOGetCmd,
	&GPIOSetCmd,
	&GPIOClearCmd,
	&GPIOOutputCmd,
	&GPIOInputCmd,
	&PortGetCmd,
	&PortSetCmd,
	&PortClearCmd,
	&DictCmd,
	&TimingCmd,
}

// HostFrom gets Host from ishell context.
func HostFrom(c *ishell.Context) *Host {
	return c.Get(hostKey).(*Host)
}

// channelArg resolves a channel name from the config or a channel number
func channelArg(c *ishell.Context, i int) (uint32, bool) {
	if len(c.Args) <= i {
		c.Err(fmt.Errorf("CHANNEL required"))
		return 0, false
	}
	if ch, ok := HostFrom(c).Config.Lookup(c.Args[i]); ok {
		return ch.Channel, true
	}
	n, err := strconv.ParseUint(c.Args[i], 0, 32)
	if err != nil {
		c.Err(fmt.Errorf("Invalid CHANNEL %q", c.Args[i]))
		return 0, false
	}
	return uint32(n), true
}

// uintArgs parses c.Args[from:] as uint32 values; names label the
// required ones, further values are optional
func uintArgs(c *ishell.Context, from int, names ...string) ([]uint32, bool) {
	args := c.Args[from:]
	if len(args) < len(names) {
		c.Err(fmt.Errorf("%s required", names[len(args)]))
		return nil, false
	}
	vals := make([]uint32, len(args))
	for i, arg := range args {
		n, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			c.Err(fmt.Errorf("Invalid argument %q: %v", arg, err))
			return nil, false
		}
		vals[i] = uint32(n)
	}
	return vals, true
}

// done prints the result of a command without output
func done(c *ishell.Context, err error) {
	if err != nil {
		c.Err(err)
		return
	}
	c.Println("OK")
}

// show prints v, as JSON when requested
func show(c *ishell.Context, v interface{}) {
	if HostFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

var (
	// PingCmd sends a ping, which feeds the watchdog.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "",
		Func: func(c *ishell.Context) {
			start := time.Now()
			if err := HostFrom(c).MCU.Ping(); err != nil {
				c.Err(err)
				return
			}
			c.Printf("acked in %v\n", time.Since(start))
		},
	}

	// SetupCmd binds a channel to a pin.
	SetupCmd = ishell.Cmd{
		Name: "setup",
		Help: "CHANNEL [PORT PIN [inverted]]",
		Func: func(c *ishell.Context) {
			h := HostFrom(c)
			if len(c.Args) == 1 {
				ch, ok := h.Config.Lookup(c.Args[0])
				if !ok {
					c.Err(fmt.Errorf("PORT PIN required for unnamed channel"))
					return
				}
				done(c, h.MCU.SetupPin(ch.Channel, ch.Port, ch.Pin, ch.Inverted))
				return
			}
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("PORT PIN required"))
				return
			}
			vals, ok := uintArgs(c, 1, "PORT", "PIN")
			if !ok {
				return
			}
			inverted := len(c.Args) > 3 && c.Args[3] == "inverted"
			done(c, h.MCU.SetupPin(ch, vals[0], vals[1], inverted))
		},
	}

	// TaskCmd adds a pulse task.
	TaskCmd = ishell.Cmd{
		Name:    "task",
		Aliases: []string{"t"},
		Help:    "CHANNEL TOGGLES SETUP(ns) HOLD(ns) [DELAY(ns)] [DIR(0|1)]",
		Func: func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			vals, ok := uintArgs(c, 1, "TOGGLES", "SETUP", "HOLD")
			if !ok {
				return
			}
			t := core.Task{Toggles: vals[0], SetupNs: vals[1], HoldNs: vals[2]}
			if len(vals) > 3 {
				t.DelayNs = vals[3]
			}
			if len(vals) > 4 {
				t.Dir = vals[4] != 0
			}
			done(c, HostFrom(c).MCU.AddTask(ch, t))
		},
	}

	// PWMCmd adds a frequency/duty task.
	PWMCmd = ishell.Cmd{
		Name: "pwm",
		Help: fmt.Sprintf("CHANNEL FREQ(Hz) DUTY(0-%d) [TOGGLES]", core.MaxDuty),
		Func: func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			vals, ok := uintArgs(c, 1, "FREQ", "DUTY")
			if !ok {
				return
			}
			var toggles uint32
			if len(vals) > 2 {
				toggles = vals[2]
			}
			done(c, HostFrom(c).MCU.AddPWMTask(ch, vals[0], vals[1], toggles))
		},
	}

	// AbortCmd stops a channel.
	AbortCmd = ishell.Cmd{
		Name:    "abort",
		Aliases: []string{"a"},
		Help:    "CHANNEL [setup|hold|now]",
		Func: func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			var phaseName string
			if len(c.Args) > 1 {
				phaseName = c.Args[1]
			}
			phase, err := bridge.ParsePhase(phaseName)
			if err != nil {
				c.Err(err)
				return
			}
			done(c, HostFrom(c).MCU.Abort(ch, phase))
		},
	}

	// AbortAllCmd stops every channel at once.
	AbortAllCmd = ishell.Cmd{
		Name:    "abortall",
		Aliases: []string{"estop"},
		Help:    "",
		Func: func(c *ishell.Context) {
			done(c, HostFrom(c).MCU.AbortAll())
		},
	}

	// StatusCmd prints channel counters.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "[CHANNEL...]",
		Func: func(c *ishell.Context) {
			h := HostFrom(c)
			var chans []uint32
			for i := range c.Args {
				ch, ok := channelArg(c, i)
				if !ok {
					return
				}
				chans = append(chans, ch)
			}
			if len(chans) == 0 {
				for _, ch := range h.Config.Channels {
					chans = append(chans, ch.Channel)
				}
			}
			if len(chans) == 0 {
				c.Err(fmt.Errorf("CHANNEL required"))
				return
			}
			for _, ch := range chans {
				st, err := h.MCU.Status(ch)
				if err != nil {
					c.Err(err)
					return
				}
				if h.OutputJSON {
					show(c, st)
					continue
				}
				c.Printf("%2d busy=%v toggles=%d position=%d done=%d\n",
					st.Channel, st.Busy, st.Toggles, st.Position, st.TasksDone)
			}
		},
	}

	// PositionCmd reads or sets the position counter.
	PositionCmd = ishell.Cmd{
		Name:    "pos",
		Aliases: []string{"p"},
		Help:    "CHANNEL [VALUE]",
		Func: func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			m := HostFrom(c).MCU
			if len(c.Args) > 1 {
				pos, err := strconv.ParseInt(c.Args[1], 0, 32)
				if err != nil {
					c.Err(fmt.Errorf("Invalid VALUE: %v", err))
					return
				}
				done(c, m.SetPosition(ch, int32(pos)))
				return
			}
			pos, err := m.Position(ch)
			if err != nil {
				c.Err(err)
				return
			}
			show(c, pos)
		},
	}

	// TasksDoneCmd reads or sets the completed task counter.
	TasksDoneCmd = ishell.Cmd{
		Name: "done",
		Help: "CHANNEL [VALUE]",
		Func: func(c *ishell.Context) {
			ch, ok := channelArg(c, 0)
			if !ok {
				return
			}
			m := HostFrom(c).MCU
			if len(c.Args) > 1 {
				vals, ok := uintArgs(c, 1, "VALUE")
				if !ok {
					return
				}
				done(c, m.SetTasksDone(ch, vals[0]))
				return
			}
			n, err := m.TasksDone(ch)
			if err != nil {
				c.Err(err)
				return
			}
			show(c, n)
		},
	}

	// WatchdogCmd arms or disarms the device watchdog.
	WatchdogCmd = ishell.Cmd{
		Name:    "watchdog",
		Aliases: []string{"wd"},
		Help:    "TIMEOUT(ms), 0 disables",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "TIMEOUT")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.SetWatchdog(time.Duration(vals[0])*time.Millisecond))
		},
	}

	// GPIOGetCmd reads a pin.
	GPIOGetCmd = ishell.Cmd{
		Name: "gpio.get",
		Help: "PORT PIN",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "PIN")
			if !ok {
				return
			}
			high, err := HostFrom(c).MCU.GPIOPin(vals[0], vals[1])
			if err != nil {
				c.Err(err)
				return
			}
			show(c, high)
		},
	}

	// GPIOSetCmd drives a pin high.
	GPIOSetCmd = ishell.Cmd{
		Name: "gpio.set",
		Help: "PORT PIN",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "PIN")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.GPIOSet(vals[0], vals[1]))
		},
	}

	// GPIOClearCmd drives a pin low.
	GPIOClearCmd = ishell.Cmd{
		Name: "gpio.clear",
		Help: "PORT PIN",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "PIN")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.GPIOClear(vals[0], vals[1]))
		},
	}

	// GPIOOutputCmd configures a pin as an output.
	GPIOOutputCmd = ishell.Cmd{
		Name: "gpio.out",
		Help: "PORT PIN",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "PIN")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.GPIOSetupOutput(vals[0], vals[1]))
		},
	}

	// GPIOInputCmd configures a pin as an input.
	GPIOInputCmd = ishell.Cmd{
		Name: "gpio.in",
		Help: "PORT PIN",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "PIN")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.GPIOSetupInput(vals[0], vals[1]))
		},
	}

	// PortGetCmd reads a whole port.
	PortGetCmd = ishell.Cmd{
		Name: "port.get",
		Help: "PORT",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT")
			if !ok {
				return
			}
			word, err := HostFrom(c).MCU.GPIOPort(vals[0])
			if err != nil {
				c.Err(err)
				return
			}
			if HostFrom(c).OutputJSON {
				show(c, word)
				return
			}
			c.Printf("%#08x\n", word)
		},
	}

	// PortSetCmd drives the masked pins of a port high.
	PortSetCmd = ishell.Cmd{
		Name: "port.set",
		Help: "PORT MASK",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "MASK")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.GPIOPortSet(vals[0], vals[1]))
		},
	}

	// PortClearCmd drives the masked pins of a port low.
	PortClearCmd = ishell.Cmd{
		Name: "port.clear",
		Help: "PORT MASK",
		Func: func(c *ishell.Context) {
			vals, ok := uintArgs(c, 0, "PORT", "MASK")
			if !ok {
				return
			}
			done(c, HostFrom(c).MCU.GPIOPortClear(vals[0], vals[1]))
		},
	}

	// DictCmd prints the message dictionary the firmware registers.
	DictCmd = ishell.Cmd{
		Name: "dict",
		Help: "",
		Func: func(c *ishell.Context) {
			eng := core.NewEngine(core.NewSimGPIO(), core.NewSimTimer(core.DefaultTickMask), core.DefaultConfig())
			c.Print(core.NewController(eng, nil).Registry().GetDictionary())
		},
	}

	// TimingCmd dumps the timing ring of the simulated device.
	TimingCmd = ishell.Cmd{
		Name: "timing",
		Help: "",
		Func: func(c *ishell.Context) {
			dev := HostFrom(c).Sim
			if dev == nil {
				c.Err(fmt.Errorf("timing ring is only readable from the simulated device"))
				return
			}
			for _, evt := range dev.TimingEvents() {
				c.Println(evt.String())
			}
		},
	}
)
