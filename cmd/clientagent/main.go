// Command clientagent is the process entrypoint: it parses flags, loads
// the YAML configuration, wires up the in-process bus and DC registry,
// and starts one Agent per configured "clientagent" role.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"gatekeep/bus"
	"gatekeep/clientagent"
	"gatekeep/core"
	"gatekeep/dclass"
	"gatekeep/eventsender"
	. "gatekeep/wire"

	"github.com/apex/log"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/pflag"
)

var mainLog *log.Entry

// buildRegistry turns the config file's classes[] section into a
// dclass.Registry. There is no external DC parser wired into this
// repository (spec.md's DC registry is an external interface-only
// collaborator), so this is the real population path a shipped binary
// has for the field metadata SET_FIELD authorization needs.
func buildRegistry(hash uint32) (*dclass.InMemory, error) {
	dc := dclass.NewInMemory(hash)
	for _, cc := range core.Config.Classes {
		class := &dclass.Class{
			Number: cc.Number,
			Name:   cc.Name,
			Fields: make(map[uint16]dclass.Field, len(cc.Fields)),
		}
		for _, fc := range cc.Fields {
			ft, ok := dclass.ParseFieldType(fc.Type)
			if !ok {
				return nil, fmt.Errorf("class %q field %q: unknown type %q", cc.Name, fc.Name, fc.Type)
			}
			class.Fields[fc.Index] = dclass.Field{
				Index:   fc.Index,
				Name:    fc.Name,
				Type:    ft,
				Size:    fc.Size,
				ClSend:  fc.ClSend,
				OwnSend: fc.OwnSend,
			}
		}
		dc.AddClass(class)
	}
	return dc, nil
}

func init() {
	log.SetHandler(core.Log)
	log.SetLevel(log.DebugLevel)
	mainLog = log.WithFields(log.Fields{"name": "Main"})
}

func main() {
	pflag.Usage = func() {
		fmt.Printf(
			`Usage:    clientagent [options]... [CONFIG_FILE]

      clientagent is the client-facing gateway of a distributed-object
      game server. By default it looks for a configuration file in the
      current working directory as otp.yml. A different config file
      path can be specified as a positional argument.

      -h, --help      Print this help dialog.
      -v, --version   Print version information.
      -L, --log       Specify a file to write log messages to.
      -l, --loglevel  Specify the minimum log level that should be logged;
                        Error and Fatal levels will always be logged.
`)
		os.Exit(1)
	}

	logfilePtr := pflag.StringP("log", "L", "", "Specify the file to write log messages to.")
	loglevelPtr := pflag.StringP("loglevel", "l", "debug", "Specify minimum log level that should be logged.")
	versionPtr := pflag.BoolP("version", "v", false, "Show the application version.")
	helpPtr := pflag.BoolP("help", "h", false, "Show the application usage.")

	pflag.Parse()

	if *helpPtr {
		pflag.Usage()
		os.Exit(1)
	}
	if *versionPtr {
		fmt.Printf("clientagent (distributed-object client gateway)\nRevision: %s\n", versioninfo.Revision)
		os.Exit(1)
	}

	if *loglevelPtr != "" {
		choices := map[string]log.Level{
			"debug": log.DebugLevel, "info": log.InfoLevel, "warning": log.WarnLevel,
			"error": log.ErrorLevel, "fatal": log.FatalLevel,
		}
		choice, ok := choices[*loglevelPtr]
		if !ok {
			mainLog.Fatalf("Unknown log-level %q.", *loglevelPtr)
			os.Exit(1)
		}
		log.SetLevel(choice)
	}

	if *logfilePtr != "" {
		logfile, err := os.OpenFile(*logfilePtr, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			mainLog.Fatalf("Failed to open log file %q.", *logfilePtr)
			os.Exit(1)
		}
		logfile.Truncate(0)
		logfile.Seek(0, 0)
		defer logfile.Sync()
		defer logfile.Close()

		log.SetHandler(core.NewMultiHandler(core.Log, core.NewLogger(logfile)))
	}

	var configPath, configName string
	if args := pflag.Args(); len(args) > 0 {
		configName = filepath.Base(args[0])
		configName = strings.TrimSuffix(configName, path.Ext(configName))
		configPath = filepath.Dir(args[0])
	} else {
		configName = "otp"
		configPath = "."
	}

	mainLog.Info("Loading configuration file...")
	if err := core.LoadConfig(configPath, configName); err != nil {
		mainLog.Fatal(err.Error())
		os.Exit(1)
	}

	if core.Config.Log.Level != "" {
		if choice, ok := map[string]log.Level{
			"debug": log.DebugLevel, "info": log.InfoLevel, "warning": log.WarnLevel,
			"error": log.ErrorLevel, "fatal": log.FatalLevel,
		}[core.Config.Log.Level]; ok {
			log.SetLevel(choice)
		}
	}
	if core.Config.Log.File != "" {
		if f, err := core.OpenRotatingLogFile(core.Config.Log.File); err != nil {
			mainLog.Warnf("failed to open configured log.file: %v", err)
		} else {
			log.SetHandler(core.NewMultiHandler(core.Log, core.NewLogger(f)))
		}
	}

	core.StopChan = make(chan bool)

	md := bus.New()
	defer md.Stop()

	var agents []*clientagent.Agent
	errChan := make(chan error, len(core.Config.Roles))

	var loggers []*eventsender.Logger

	for _, role := range core.Config.Roles {
		if role.Type == "eventlogger" {
			logger, err := eventsender.StartLogger(role.Bind, role.Output)
			if err != nil {
				mainLog.Fatalf("failed to start event logger role %q: %v", role.Name, err)
				os.Exit(1)
			}
			loggers = append(loggers, logger)
			continue
		}
		if role.Type != "clientagent" {
			mainLog.Warnf("role %q has unsupported type %q, skipping", role.Name, role.Type)
			continue
		}

		events, err := eventsender.Dial(core.Config.General.Eventlogger)
		if err != nil {
			mainLog.Fatalf("failed to start event sender for role %q: %v", role.Name, err)
			os.Exit(1)
		}

		dc, err := buildRegistry(role.DCHash)
		if err != nil {
			mainLog.Fatalf("role %q: %v", role.Name, err)
			os.Exit(1)
		}
		agent := clientagent.NewAgent(
			md, dc, events,
			Channel_t(role.Channels.Min), Channel_t(role.Channels.Max),
			role.DCHash, role.Version,
		)
		for _, ud := range core.Config.Uberdogs {
			if err := agent.AddUberdog(Doid_t(ud.ID), ud.Class, ud.Anonymous); err != nil {
				mainLog.Fatalf("role %q: %v", role.Name, err)
				os.Exit(1)
			}
		}

		mainLog.Infof("starting role %q on %s", role.Name, role.Bind)
		go agent.Start(role.Bind, errChan, role.Proxy)
		agents = append(agents, agent)
	}

	if len(agents) == 0 {
		mainLog.Fatal("no clientagent roles configured")
		os.Exit(1)
	}

	for range agents {
		if err := <-errChan; err != nil {
			mainLog.Fatalf("failed to start listener: %v", err)
			os.Exit(1)
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	sig := <-c
	mainLog.Infof("got %s signal, shutting down...", sig)
	close(core.StopChan)
	for _, agent := range agents {
		agent.Shutdown()
	}
	for _, logger := range loggers {
		logger.Close()
	}
}
