package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "arbgen.yml"
	k              = koanf.New(".")
	log            = logrus.New()
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Output:  "VOL.RAF",
		Preview: "arb.png",
		Train:   Train{Separation: 0.2, Amplitude: 0.5, Sigma: 0.01}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
			log.WithError(err).Fatal("error loading config")
		}
	}
}

func root() {
	str := `arbgen builds 4096 point arbitrary waveform files for Rigol generators

Usage:
	arbgen <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `arbgen is configured by arbgen.yml; mkconf writes one with the defaults.

The waveform is Segments applied in order, each holding its final level to the
end of the period.  Times and levels are fractions, 0 to 1:

Segments:
  - {Kind: ramp, Start: 0.25, Hold: true, End: 0.5, To: 1}
  - {Kind: step, Start: 0.55, Hold: true, To: 0}
  - {Kind: gaussian, Start: 0.6, Center: 0.7, Amplitude: 0.5, Sigma: 0.01}
  - {Kind: fill, Start: 0.9, To: 0}

Without Segments, a train of gaussian pulses is made from Train.

The file is written to Output as 14-bit little-endian words.  Copy it to a USB
stick and load it from the front panel, or as VOL.RAF for the generator's
copy-to-volatile command.  Preview names a PNG plot of the waveform.`
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
	fmt.Printf("arbgen version %v\n", Version)
}

func run() error {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	w, err := build(c)
	if err != nil {
		return err
	}
	if err = save(w, c.Output); err != nil {
		return err
	}
	log.WithField("file", c.Output).Info("wrote waveform")
	if c.Preview != "" {
		if err = preview(w, c.Preview); err != nil {
			return err
		}
		log.WithField("file", c.Preview).Info("wrote preview")
	}
	return nil
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
