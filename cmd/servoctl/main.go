package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/servoctl/servolink"
	"github.com/servoctl/servolink/catalog"
	"github.com/servoctl/servolink/config"
	"github.com/servoctl/servolink/drive"
)

type option struct {
	address string
	station int
	baud    int
	parity  string
}

func main() {
	var opt option
	flag.StringVar(&opt.address, "address", "", "Example: rtu:///dev/ttyUSB0, tcp://192.168.1.50:8899 or a bare device path")
	flag.IntVar(&opt.station, "station", 1, "drive station address on the bus")
	flag.IntVar(&opt.baud, "baud", 9600, "line speed: 9600, 19200, 38400, 57600 or 115200")
	flag.StringVar(&opt.parity, "parity", "N", "Parity: N - None, E - Even, O - Odd")

	var (
		register     = flag.Int("register", -1, "register address to read or write")
		fnCode       = flag.Int("fn-code", 0x03, "0x03 holding or 0x04 input registers, 0x06 write")
		quantity     = flag.Int("quantity", 1, "registers to read")
		writeValue   = flag.Int("write-value", -1, "value for -fn-code 0x06")
		paramsXML    = flag.String("params", "", "parameter catalog XML; reads every parameter")
		statusXML    = flag.String("status", "", "status catalog XML; batch-reads all status registers")
		poll         = flag.Bool("poll", false, "with -status: keep polling at the settings poll interval until interrupted")
		enable       = flag.Bool("enable", false, "turn the servo on")
		disable      = flag.Bool("disable", false, "turn the servo off")
		saveEEPROM   = flag.Bool("save-eeprom", false, "persist the parameter bank to EEPROM")
		listPorts    = flag.Bool("list-ports", false, "list serial ports and exit")
		crcInput     = flag.String("crc", "", "checksum hex bytes and exit, e.g. '01 03 00 01 00 02', '0x01 0x03' or '010300010002'")
		settingsPath = flag.String("settings", "", "settings JSON; fills flags left at their defaults")
		verbose      = flag.Bool("verbose", false, "debug logging, including frame traces")
	)

	flag.Parse()

	if len(os.Args) == 1 {
		flag.PrintDefaults()
		return
	}

	logger := logrus.StandardLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *crcInput != "" {
		out, err := crcReport(*crcInput)
		if err != nil {
			logger.Error(err.Error())
			os.Exit(-1)
		}
		fmt.Print(out)
		return
	}

	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			logger.Error(err.Error())
			os.Exit(-1)
		}
		return
	}

	pollInterval := time.Second
	if *settingsPath != "" {
		settings, err := config.Load(*settingsPath)
		if err != nil {
			logger.Error(err.Error())
			os.Exit(-1)
		}
		applySettings(&opt, settings, setFlags())
		if settings.PollInterval > 0 {
			pollInterval = settings.PollInterval
		}
		if !*verbose {
			if level, err := logrus.ParseLevel(settings.LogLevel); err == nil {
				logger.SetLevel(level)
			}
		}
	}

	if opt.station < 0 || opt.station > 0xFF {
		logger.Error("invalid station: " + strconv.Itoa(opt.station))
		os.Exit(-1)
	}
	if opt.address == "" {
		logger.Error("no -address given and no port in settings")
		os.Exit(-1)
	}

	var frameTrace frameLogger
	if *verbose {
		frameTrace = &traceAdapter{logger}
	}
	handler, err := newHandler(opt, frameTrace)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
	if err := handler.Connect(); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
	defer handler.Close()

	d := drive.New(byte(opt.station), handler)

	switch {
	case *enable:
		err = d.Enable()
	case *disable:
		err = d.Disable()
	case *saveEEPROM:
		err = d.SaveEEPROM()
	case *paramsXML != "":
		err = readParams(os.Stdout, d, *paramsXML)
	case *statusXML != "" && *poll:
		err = pollStatus(os.Stdout, d, handler.Connect, *statusXML, byte(*fnCode), pollInterval)
	case *statusXML != "":
		err = readStatus(os.Stdout, d, *statusXML, byte(*fnCode))
	case *register >= 0:
		err = execRegister(os.Stdout, handler, opt, *register, *fnCode, *quantity, *writeValue)
	default:
		err = fmt.Errorf("nothing to do: give -register, -params, -status, -enable, -disable or -save-eeprom")
	}
	if err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}

// setFlags reports which flags were given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applySettings fills option fields from saved settings, but only for
// flags the user did not set explicitly.
func applySettings(opt *option, s *config.Settings, set map[string]bool) {
	if !set["address"] && s.Port != "" {
		opt.address = s.Port
	}
	if !set["baud"] && s.BaudRate > 0 {
		opt.baud = s.BaudRate
	}
	if !set["parity"] && s.Parity != "" {
		opt.parity = s.Parity
	}
	if !set["station"] && len(s.Stations) > 0 {
		opt.station = s.Stations[0]
	}
}

type frameLogger interface {
	Printf(format string, v ...interface{})
}

func newHandler(o option, trace frameLogger) (servolink.ClientHandler, error) {
	u, err := url.Parse(o.address)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		h := servolink.NewTCPClientHandler(u.Host)
		if trace != nil {
			h.TCPTransporter.Logger = trace
		}
		return h, nil
	case "rtu", "":
		path := u.Path
		if path == "" {
			path = o.address
		}
		h := servolink.NewRTUClientHandler(path)
		h.BaudRate = o.baud
		h.Parity = strings.ToUpper(o.parity)
		if trace != nil {
			h.SerialTransporter.Logger = trace
		}
		return h, nil
	}
	return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
}

func execRegister(w io.Writer, handler servolink.ClientHandler, o option, register, fnCode, quantity, writeValue int) error {
	if register > 0xFFFF {
		return fmt.Errorf("invalid register: %d", register)
	}
	handler.SetStation(byte(o.station))
	client := servolink.NewClient(handler)

	switch byte(fnCode) {
	case servolink.FuncCodeReadHoldingRegisters, servolink.FuncCodeReadInputRegisters:
		read := client.ReadHoldingRegisters
		if byte(fnCode) == servolink.FuncCodeReadInputRegisters {
			read = client.ReadInputRegisters
		}
		values, err := read(uint16(register), uint16(quantity))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for i, v := range values {
			fmt.Fprintf(tw, "%d\t0x%04X\t%d\t\n", register+i, v, v)
		}
		return tw.Flush()
	case servolink.FuncCodeWriteSingleRegister:
		if writeValue < 0 || writeValue > 0xFFFF {
			return fmt.Errorf("-write-value %d does not fit into a register", writeValue)
		}
		echoed, err := client.WriteSingleRegister(uint16(register), uint16(writeValue))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t0x%04X\n", register, echoed)
		return nil
	}
	return fmt.Errorf("function code %#02x is unsupported", fnCode)
}

func readParams(w io.Writer, d *drive.Drive, path string) error {
	params, err := catalog.LoadParameters(path)
	if err != nil {
		return err
	}
	values, err := d.ReadAll(params)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range params {
		v, ok := values[p.Address]
		if !ok {
			fmt.Fprintf(tw, "%s\t%d\t-\t%s\t\n", p.Name, p.Address, p.Description)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t\n", p.Name, p.Address, v, p.Description)
	}
	if ferr := tw.Flush(); ferr != nil {
		return ferr
	}
	return err
}

func readStatus(w io.Writer, d *drive.Drive, path string, fnCode byte) error {
	entries, err := catalog.LoadStatus(path)
	if err != nil {
		return err
	}
	values, err := d.ReadStatusBatch(entries, fnCode)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		v, ok := values[e.Address]
		if !ok {
			fmt.Fprintf(tw, "%s\t%d\t-\t%s\t\n", e.Name, e.Address, e.Units)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t\n", e.Name, e.Address, v, e.Units)
	}
	if ferr := tw.Flush(); ferr != nil {
		return ferr
	}
	return err
}

// newStatusPoller builds the continuous sweep: every complete batch is
// rendered as one tabwriter block on w.
func newStatusPoller(w io.Writer, d *drive.Drive, entries []catalog.Status, fnCode byte, interval time.Duration, reconnect func() error) *drive.Poller {
	return &drive.Poller{
		Drive:        d,
		Entries:      entries,
		FunctionCode: fnCode,
		Interval:     interval,
		Reconnect:    reconnect,
		OnUpdate: func(values map[uint16]uint16) {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			for _, e := range entries {
				if v, ok := values[e.Address]; ok {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t\n", e.Name, e.Address, v, e.Units)
				}
			}
			tw.Flush()
		},
	}
}

// pollStatus runs the status sweep at interval until SIGINT or SIGTERM.
func pollStatus(w io.Writer, d *drive.Drive, reconnect func() error, path string, fnCode byte, interval time.Duration) error {
	entries, err := catalog.LoadStatus(path)
	if err != nil {
		return err
	}
	p := newStatusPoller(w, d, entries, fnCode, interval, reconnect)
	p.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	p.Stop()
	return nil
}

// crcReport checksums space- or colon-separated hex bytes and shows the
// value both as a 16-bit integer and in the order it travels on the
// wire (low byte first).
func crcReport(input string) (string, error) {
	data, err := parseHexBytes(input)
	if err != nil {
		return "", err
	}
	value := servolink.ComputeCRC(data)
	return fmt.Sprintf("crc16 of % X: 0x%04X (wire order: %02X %02X)\n",
		data, value, byte(value), byte(value>>8)), nil
}

func parseHexBytes(input string) ([]byte, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		switch r {
		case ' ', ':', ',', '\t':
			return true
		}
		return false
	})
	var digits strings.Builder
	for _, field := range fields {
		// Tokens may carry their own 0x prefix ("0x01 0x03 ...").
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		digits.WriteString(field)
	}
	data, err := hex.DecodeString(digits.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex input %q: %w", input, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty hex input")
	}
	return data, nil
}

func printPorts(w io.Writer) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return err
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUSB\tPRODUCT\t")
	for _, p := range ports {
		usb := "-"
		if p.IsUSB {
			usb = p.VID + ":" + p.PID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", p.Name, usb, p.Product)
	}
	return tw.Flush()
}
