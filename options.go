package otfgpa

import (
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-gpa/internal/util"
	"github.com/pkg/errors"
)

type Option func(*OtfGpaService) error

//
// apply all supplied options to the service
// returns any error encountered while applying the options
//
func (srvc *OtfGpaService) setOptions(options ...Option) error {
	for _, opt := range options {
		if err := opt(srvc); err != nil {
			return err
		}
	}
	return nil
}

//
// the name of this service instance, generated if blank
//
func Name(name string) Option {
	return func(s *OtfGpaService) error {
		if name != "" {
			s.serviceName = name
			return nil
		}
		s.serviceName = util.GenerateName()
		return nil
	}
}

//
// the id of this service instance, generated if blank
//
func ID(id string) Option {
	return func(s *OtfGpaService) error {
		if id != "" {
			s.serviceID = id
			return nil
		}
		s.serviceID = util.GenerateID()
		return nil
	}
}

//
// host name/address the service listens on
//
func Host(hostName string) Option {
	return func(s *OtfGpaService) error {
		if hostName == "" {
			return errors.New("must provide a host name/address for the service")
		}
		s.serviceHost = hostName
		return nil
	}
}

//
// port to listen on, 0 picks an available port
//
func Port(port int) Option {
	return func(s *OtfGpaService) error {
		if port < 0 {
			return errors.Errorf("invalid port %d", port)
		}
		if port != 0 {
			s.servicePort = port
			return nil
		}
		p, err := util.AvailablePort()
		if err != nil {
			return err
		}
		s.servicePort = p
		return nil
	}
}

//
// directory for the persistent store,
// empty keeps everything in memory
//
func DataDir(dir string) Option {
	return func(s *OtfGpaService) error {
		s.dataDir = dir
		return nil
	}
}

//
// how long an idle session stays registered
//
func SessionTTL(d time.Duration) Option {
	return func(s *OtfGpaService) error {
		if d <= 0 {
			return errors.New("session ttl must be positive")
		}
		s.sessionTTL = d
		return nil
	}
}

//
// how long decoded run snapshots stay cached
//
func CacheTTL(d time.Duration) Option {
	return func(s *OtfGpaService) error {
		if d <= 0 {
			return errors.New("cache ttl must be positive")
		}
		s.cacheTTL = d
		return nil
	}
}

//
// log level: debug, info, warn, error or off
//
func LogLevel(level string) Option {
	return func(s *OtfGpaService) error {
		switch strings.ToLower(level) {
		case "debug":
			s.logLevel = log.DEBUG
		case "", "info":
			s.logLevel = log.INFO
		case "warn":
			s.logLevel = log.WARN
		case "error":
			s.logLevel = log.ERROR
		case "off":
			s.logLevel = log.OFF
		default:
			return errors.Errorf("unknown log level %q", level)
		}
		return nil
	}
}
