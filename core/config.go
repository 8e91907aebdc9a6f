package core

import (
	"fmt"

	"github.com/spf13/viper"
)

var Config *ServerConfig
var StopChan chan bool // closed at shutdown to stop every NetworkServer started by Start()

// UberdogConfig is the on-disk shape of one uberdogs[] entry.
type UberdogConfig struct {
	ID        uint32
	Class     string
	Anonymous bool
}

// ClassFieldConfig is the on-disk shape of one field of a statically
// configured distributed class. Used to populate a dclass.Registry when
// no externally-parsed .dc file is wired in; Type is one of the names
// dclass.ParseFieldType understands ("uint32", "string", "fixed", ...).
type ClassFieldConfig struct {
	Index   uint16
	Name    string
	Type    string
	Size    uint16
	ClSend  bool
	OwnSend bool
}

// ClassConfig is the on-disk shape of one classes[] entry: enough to
// build a dclass.Class without a real DC parser.
type ClassConfig struct {
	Number uint16
	Name   string
	Fields []ClassFieldConfig
}

// Role is one configured process role. cmd/clientagent runs roles of
// type "clientagent" and "eventlogger" and skips any other type. Output
// is read only by the eventlogger role; Tuning is never read by
// anything in this module.
type Role struct {
	Type string
	Name string

	Bind    string
	Proxy   bool
	Version string
	DCHash  uint32
	Tuning  struct {
		InterestTimeout int
	}
	Channels struct {
		Min uint64
		Max uint64
	}

	// EVENT LOGGER / SENDER
	Output string
}

// ServerConfig is the top-level shape of the YAML configuration file,
// mirroring the teacher's otp.yml layout.
type ServerConfig struct {
	Daemon struct {
		Name string
	}
	General struct {
		Eventlogger string
	}
	Uberdogs []UberdogConfig
	Classes  []ClassConfig
	MessageDirector struct {
		Bind string
	}
	Log struct {
		Level string
		File  string
	}
	Roles []Role
}

func LoadConfig(path string, name string) (err error) {
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(path)
	viper.SetConfigName(name)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to load configuration file: %v", err)
	}

	conf := &ServerConfig{}
	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("unable to decode configuration file: %v", err)
	}

	Config = conf
	return nil
}
