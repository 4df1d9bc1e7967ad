package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	otfgpa "github.com/nsip/otf-gpa"
	"github.com/peterbourgon/ff/v3"
)

func main() {

	// a .env file is optional, values in the real environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("\nCannot read .env file:\n%s\n\n", err)
		return
	}

	fs := flag.NewFlagSet("otf-gpa", flag.ExitOnError)
	var (
		_           = fs.String("config", "", "config file (optional), json format.")
		serviceName = fs.String("name", "", "name for this gpa service instance")
		serviceID   = fs.String("id", "", "id for this gpa service instance, leave blank to auto-generate a unique id")
		serviceHost = fs.String("host", "localhost", "name/address of host for this service")
		servicePort = fs.Int("port", 0, "port to run service on, if not specified will assign an available port automatically")
		dataDir     = fs.String("dataDir", "", "directory for the persistent store, leave blank to keep all data in memory")
		sessionTTL  = fs.Duration("sessionTTL", 24*time.Hour, "how long an idle session stays registered")
		cacheTTL    = fs.Duration("cacheTTL", 10*time.Minute, "how long decoded run results stay cached")
		logLevel    = fs.String("logLevel", "info", "log level: debug, info, warn, error or off")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("OTF_GPA_SRVC"),
	); err != nil {
		fmt.Printf("\nCannot parse configuration:\n%s\n\n", err)
		return
	}

	opts := []otfgpa.Option{
		otfgpa.Name(*serviceName),
		otfgpa.ID(*serviceID),
		otfgpa.Host(*serviceHost),
		otfgpa.Port(*servicePort),
		otfgpa.DataDir(*dataDir),
		otfgpa.SessionTTL(*sessionTTL),
		otfgpa.CacheTTL(*cacheTTL),
		otfgpa.LogLevel(*logLevel),
	}

	srvc, err := otfgpa.New(opts...)
	if err != nil {
		fmt.Printf("\nCannot create otf-gpa service:\n%s\n\n", err)
		return
	}

	srvc.PrintConfig()

	// signal handler for shutdown
	closed := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Println("\notf-gpa shutting down")
		srvc.Shutdown()
		fmt.Println("otf-gpa closed")
		close(closed)
	}()

	srvc.Start()

	// block until shutdown by sig-handler
	<-closed

}
