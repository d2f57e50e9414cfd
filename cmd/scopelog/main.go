package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"

	"github.com/coldatomlab/labctl/rigol"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scopelog.yml"
	k              = koanf.New(".")
	log            = logrus.New()
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:      "/dev/usbtmc0",
		Selection: "both",
		Stop:      true,
		Interval:  10 * time.Second,
		OutputDir: ".",
		Prefix:    "trace",
		LogLevel:  "info"}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
			log.WithError(err).Fatal("error loading config")
		}
	}
}

func root() {
	str := `scopelog reads waveforms from a Rigol DS1102E and saves them as CSV files

Usage:
	scopelog <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `scopelog is configured by scopelog.yml; mkconf writes one with the defaults.

Addr is /dev/usbtmc0 for the kernel driver, usb:1ab1:0588 for libusb, or
host:port.  Channels, AcqMode (NORMAL, RAW) and MemDepth (NORMAL, LONG) are
applied before the first readout when set.

Selection is 1, 2 or both.  With Loop, a trace is read every Interval (e.g.
10s) until Count traces are saved or the program is interrupted.  Files are
named <OutputDir>/<Prefix><n>.csv; Plot adds a PNG of each trace.

RAW readouts with LONG memory take several seconds per channel.  With Stop the
scope is halted for the readout and restarted afterwards.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("scopelog version %v\n", Version)
}

func run() error {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	sel, err := rigol.ParseSelection(c.Selection)
	if err != nil {
		return err
	}
	var table *rigol.TimebaseTable
	if c.Timebase != "" {
		if table, err = rigol.LoadTimebaseTable(c.Timebase); err != nil {
			return err
		}
	}
	scope, err := rigol.Open(c.Addr, table, log)
	if err != nil {
		return err
	}
	defer scope.Close()
	if err = configure(scope, c); err != nil {
		return err
	}
	if _, err = scope.ReadoutInfo(); err != nil {
		return err
	}

	var p progress = quiet{}
	if sess := scope.Session(); sess.AcqMode == rigol.AcqRaw && sess.MemDepth == rigol.DepthLong {
		if p, err = newSpinner(); err != nil {
			log.WithError(err).Warn("no spinner")
			p = quiet{}
		}
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	written, err := acquire(ctx, scope, c, sel, p, log)
	log.WithField("traces", len(written)).Info("finished")
	return err
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		if err := run(); err != nil {
			log.Fatal(err)
		}
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
