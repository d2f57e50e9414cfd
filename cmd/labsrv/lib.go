package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/coldatomlab/labctl/generichttp"
	"github.com/coldatomlab/labctl/generichttp/tmc"
	"github.com/coldatomlab/labctl/lakeshore"
	"github.com/coldatomlab/labctl/rigol"
	"github.com/coldatomlab/labctl/server/middleware/locker"
	"github.com/coldatomlab/labctl/wavemeter"
)

// ObjSetup holds the typical triplet of args for a New<device> call
type ObjSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, /dev/ttyS4 for an RS232 device, /dev/usbtmc0 or
	// usb:1ab1:0588 for a Rigol on USB
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Endpoint is the full path the routes from this device will be served on
	// ex. Endpoint="/lab/scope" will produce routes of /lab/scope/waveform, etc.
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Type is the "type" of the object, e.g. rigol-ds1102
	Type string `koanf:"Type" yaml:"Type"`

	// Args holds any arguments to pass into the constructor for the object.
	// rigol-ds1102 accepts Timebase, the path to a timebase table
	Args map[string]interface{} `koanf:"Args" yaml:"Args"`
}

// Config is a struct that holds the initialization parameters for various
// HTTP adapted devices
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// LogLevel is a logrus level, e.g. info or debug
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `koanf:"Nodes" yaml:"Nodes"`
}

func argString(node ObjSetup, key string) string {
	if node.Args == nil {
		return ""
	}
	if v, ok := node.Args[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// open makes the instrument of a node and its HTTP wrapper
func open(node ObjSetup, log logrus.FieldLogger) (generichttp.HTTPer, io.Closer, error) {
	log = log.WithFields(logrus.Fields{"type": node.Type, "addr": node.Addr})
	switch strings.ToLower(node.Type) {
	case "rigol-ds1102", "ds1102e", "ds1102":
		table := rigol.DefaultTimebaseTable()
		if path := argString(node, "Timebase"); path != "" {
			var err error
			if table, err = rigol.LoadTimebaseTable(path); err != nil {
				return nil, nil, err
			}
		}
		scope, err := rigol.Open(node.Addr, table, log)
		if err != nil {
			return nil, nil, err
		}
		return tmc.NewHTTPScope(scope), scope, nil

	case "rigol-dg1032", "dg1032", "rigol-dg4162", "dg4162":
		model := rigol.DG1032
		if strings.Contains(node.Type, "4162") {
			model = rigol.DG4162
		}
		gen, err := rigol.OpenFunctionGenerator(node.Addr, model, log)
		if err != nil {
			return nil, nil, err
		}
		return tmc.NewHTTPFunctionGenerator(gen), gen, nil

	case "lakeshore331", "lakeshore":
		ctl := lakeshore.Open(node.Addr, log)
		return tmc.NewHTTPThermometer(ctl), ctl, nil

	case "wa1500", "wavemeter":
		wm := wavemeter.Open(node.Addr, log)
		return tmc.NewHTTPWavemeter(wm), wm, nil
	}
	return nil, nil, fmt.Errorf("type %q not understood", node.Type)
}

// BuildMux constructs a chi mux with one subrouter per node.
// Requests are logged to log in the format of chi's middleware.Logger.
// The mux serves two special routes: /endpoints, which returns every route as
// JSON, and /metrics for prometheus.  The returned closers release the
// instruments
func BuildMux(c Config, log logrus.FieldLogger, reg *prometheus.Registry) (chi.Router, []io.Closer, error) {
	root := chi.NewRouter()
	root.Use(middleware.RequestID,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}),
		middleware.Recoverer)
	metrics := generichttp.NewMetrics(reg)
	supergraph := map[string][]string{}
	var closers []io.Closer

	for _, node := range c.Nodes {
		httper, closer, err := open(node, log)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, fmt.Errorf("node %s: %w", node.Endpoint, err)
		}
		closers = append(closers, closer)

		// prepare the URL, "lab/scope" => "/lab/scope"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, dup := supergraph[hndlS]; dup {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, fmt.Errorf("endpoint %s used twice", hndlS)
		}

		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(metrics.Instrument(hndlS))
		r.Use(lock.Check)
		r.Use(generichttp.Exclusive(new(sync.Mutex)))
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		log.WithFields(logrus.Fields{"endpoint": hndlS, "type": node.Type, "routes": len(supergraph[hndlS])}).Info("bound node")
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return root, closers, nil
}
