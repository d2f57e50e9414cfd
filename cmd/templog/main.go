package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"

	"github.com/coldatomlab/labctl/cryostat"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "templog.yml"
	k              = koanf.New(".")
	log            = logrus.New()
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:     "192.168.1.50:5025",
		Curve:    "DT-600.txt",
		Diode:    101,
		Setpoint: 102,
		Averages: 100,
		LogEvery: 5,
		Output:   "templog.csv",
		Channel:  "cryostat",
		LogLevel: "info"}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
			log.WithError(err).Fatal("error loading config")
		}
	}
}

func root() {
	str := `templog records the error signal of the cryostat temperature controller

Usage:
	templog <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `templog is configured by templog.yml; mkconf writes one with the defaults.

Addr is the host:port of a SCPI voltmeter.  Diode and Setpoint are its
channels for the thermometer diode and the controller setpoint.  Each reading
is the mean of Averages conversions.

Curve is a DT-600 style table, three header rows then temperature and voltage
columns.  Diode voltages off the table are logged with a temperature of NaN.

Rows of time, V0, V1, V1-V0 and T(V0) go to Output every Interval (0 polls as
fast as the meter allows), until Samples rows or an interrupt.  Every LogEvery
rows the error signal is printed.

With Redis set to a host:port, each sample is also published as JSON on
Channel, and the last 1000 are kept in the list <Channel>:recent.`
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
	fmt.Printf("templog version %v\n", Version)
}

func run() error {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	dmm := cryostat.OpenDMM(c.Addr)
	defer dmm.Pool.Close()
	l, err := newLogger(c, dmm, log)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if c.Redis != "" {
		pub, err := cryostat.NewRedisPublisher(ctx, c.Redis, c.Channel)
		if err != nil {
			return err
		}
		defer pub.Close()
		l.Publisher = pub
		log.WithFields(logrus.Fields{"redis": c.Redis, "channel": c.Channel}).Info("publishing samples")
	}
	log.WithField("file", c.Output).Info("logging")
	return record(ctx, l, c.Output)
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
