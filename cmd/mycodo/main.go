package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	mycodo "github.com/jshsltr/Mycodo"
)

const defaultMeasureInterval = "10s"

var (
	Version string
	Build   string

	config          = flag.String("config", "config.json", "path of the configuration file")
	flagInstall     = flag.Bool("install", false, "Install service in os")
	measureInterval = flag.String("interval", defaultMeasureInterval, "measurement interval (time.Duration)")
	logLevel        = flag.String("log", "info", "log level (debug, info, warn, error)")

	mycodoService = servicemaker.ServiceMaker{
		User:               "mycodo",
		UserGroups:         []string{"gpio", "dialout", "i2c"},
		ServicePath:        "/etc/systemd/system/mycodo.service",
		ServiceDescription: "Mycodo pH monitor: Atlas Scientific pH sensor daemon. github.com/jshsltr/Mycodo",
		ExecDir:            "/srv/mycodo",
		ExecName:           "mycodo",
	}
)

func main() {
	log.Info("mycodo started", "version", Version)
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Warn("unrecognized log level, using info", "level", *logLevel)
	} else {
		log.SetLevel(level)
	}

	if *flagInstall {
		err := mycodoService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Info("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	measureDuration, err := time.ParseDuration(*measureInterval)
	if err != nil {
		panic(err)
	}

	daemon := &mycodo.Daemon{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		if err != nil {
			log.Fatalf("failed reading config file: %v", err)
		}

		err = json.Unmarshal(cBuff, daemon)
		if err != nil {
			log.Fatalf("failed unmarshalling json config: %v", err)
		}
	} else {
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v", *config, err)
	}

	log.Info("will init drivers...")
	err = daemon.InitDrivers(ctx)
	defer daemon.Close()
	if err != nil {
		panic(err)
	}

	log.Info("will init ph sensors...")
	err = daemon.InitSensors()
	if err != nil {
		panic(err)
	}

	if len(daemon.MqttBroker) > 0 {
		err = daemon.InitMqtt()
		if err != nil {
			log.Warn("mqtt connection failed, measurements will not be published", "err", err)
		}
	}

	daemon.PrintStatus(os.Stdout)

	if len(daemon.Listen) > 0 {
		daemon.StartServer()
	}

	daemon.StartTicker(measureDuration)
}
