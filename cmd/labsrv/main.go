package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "labsrv.yml"
	k              = koanf.New(".")
	log            = logrus.New()
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:     ":8000",
		LogLevel: "info",
		Nodes:    []ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
			log.WithError(err).Fatal("error loading config")
		}
	}
}

func root() {
	str := `labsrv communicates with the lab's instruments and exposes an HTTP interface to them
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	labsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `labsrv is amenable to configuration via its .yaml file, labsrv.yml.

Without a configuration, the server will start with no endpoints.

No two endpoints can have the same URL.

URLs may look like any variation between "lab/scope" or "/lab/scope/*", the
leading and trailing slashes, as well as the *, are handled by the server.

Every node has a lock, GET or POST {"bool": true} to <endpoint>/lock.  While
locked, requests other than GET are answered 423.

Hardware and matching "type" fields, case insensitive:
- Rigol
	> DS1102E oscilloscope "rigol-ds1102"
	  Args: Timebase: path to a YAML timebase table
	> DG1032 function generator "rigol-dg1032"
	> DG4162 function generator "rigol-dg4162"
- Lakeshore
	> 331 temperature controller "lakeshore331"
- Burleigh
	> WA-1500 wavemeter "wa1500"

Rigol addresses are /dev/usbtmcN, usb:vendor:product (hex) or host:port.
Serial instruments take a device path or the host:port of a portserver.

/endpoints lists every route, /metrics serves prometheus metrics.`
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
	fmt.Printf("labsrv version %v\n", Version)
}

func run() {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux, closers, err := BuildMux(c, log, reg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	log.WithField("addr", c.Addr).Info("now listening for requests")
	if err := http.ListenAndServe(c.Addr, mux); err != nil {
		log.Error(err)
	}
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
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
