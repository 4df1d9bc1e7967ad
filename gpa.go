package otfgpa

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-gpa/internal/store"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"
)

type OtfGpaService struct {
	// embedded web server to handle upload and run requests
	e *echo.Echo
	// the unique name of this service when running multiple instances
	serviceName string
	// the unique id of this service when running multiple instances
	serviceID string
	// the host address this service instance is running on
	serviceHost string
	// the port that this service instance is running on
	servicePort int
	// directory of the persistent store, empty for in-memory
	dataDir string
	// idle lifetime of a session
	sessionTTL time.Duration
	// lifetime of decoded run snapshots in the cache
	cacheTTL time.Duration
	// echo/gommon log level
	logLevel log.Lvl

	// parsed files, run manifests and run snapshots
	store *store.Store
	// decoded run snapshots keyed by session/run
	results *cache.Cache
	// sessions seen recently, keyed by session key
	sessions *cache.Cache
	// coalesces concurrent snapshot loads
	loads singleflight.Group

	metrics *serviceMetrics
}

//
// echo validator backed by go-playground/validator
//
type requestValidator struct {
	validator *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	if err := rv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

//
// create a new service instance
//
func New(options ...Option) (*OtfGpaService, error) {

	srvc := OtfGpaService{
		serviceHost: "localhost",
		sessionTTL:  24 * time.Hour,
		cacheTTL:    10 * time.Minute,
		logLevel:    log.INFO,
	}

	if err := srvc.setOptions(options...); err != nil {
		return nil, err
	}
	if srvc.serviceName == "" {
		if err := Name("")(&srvc); err != nil {
			return nil, err
		}
	}
	if srvc.serviceID == "" {
		if err := ID("")(&srvc); err != nil {
			return nil, err
		}
	}

	srvc.e = echo.New()
	srvc.e.HideBanner = true
	srvc.e.Logger.SetLevel(srvc.logLevel)
	srvc.e.Validator = &requestValidator{validator: validator.New()}

	storeCfg := store.InMemoryConfig()
	if srvc.dataDir != "" {
		storeCfg = store.DefaultConfig(srvc.dataDir)
	}
	if l, ok := srvc.e.Logger.(*log.Logger); ok && srvc.logLevel <= log.DEBUG {
		storeCfg.Logger = l
	}
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open store")
	}
	srvc.store = st

	srvc.results = cache.New(srvc.cacheTTL, 2*srvc.cacheTTL)
	srvc.sessions = cache.New(srvc.sessionTTL, time.Hour)
	srvc.metrics = newServiceMetrics()

	// add pingable method to know we're up
	srvc.e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, "OK")
	})
	srvc.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(srvc.metrics.registry, promhttp.HandlerOpts{})))

	api := srvc.e.Group("", srvc.sessionMiddleware)
	api.GET("/session", srvc.sessionHandler)
	api.POST("/files", srvc.uploadHandler)
	api.GET("/files", srvc.listFilesHandler)
	api.POST("/runs", srvc.computeHandler)
	api.GET("/runs", srvc.listRunsHandler)
	api.GET("/runs/:id", srvc.resultHandler)
	api.GET("/runs/:id/export", srvc.exportHandler)

	return &srvc, nil
}

//
// start the service running
//
func (s *OtfGpaService) Start() {

	address := fmt.Sprintf("%s:%d", s.serviceHost, s.servicePort)
	go func(addr string) {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.e.Logger.Info("error starting server: ", err, ", shutting down...")
			// attempt clean shutdown by raising sig int
			p, _ := os.FindProcess(os.Getpid())
			p.Signal(os.Interrupt)
		}
	}(address)

}

// Handler exposes the routed echo instance, mainly for tests.
func (s *OtfGpaService) Handler() http.Handler {
	return s.e
}

//
// shut the server down gracefully
// and release the store
//
func (s *OtfGpaService) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(ctx); err != nil {
		fmt.Println("could not shut down server cleanly: ", err)
	}
	if err := s.store.Close(); err != nil {
		fmt.Println("could not close store cleanly: ", err)
	}
}

func (s *OtfGpaService) PrintConfig() {

	fmt.Println("\n\tOTF-GPA Service Configuration")
	fmt.Println("\t-------------------------------")

	s.printID()
	s.printStoreConfig()

}

func (s *OtfGpaService) printID() {
	fmt.Println("\tservice name:\t\t", s.serviceName)
	fmt.Println("\tservice ID:\t\t", s.serviceID)
	fmt.Println("\tservice host:\t\t", s.serviceHost)
	fmt.Println("\tservice port:\t\t", s.servicePort)
}

func (s *OtfGpaService) printStoreConfig() {
	dir := s.dataDir
	if dir == "" {
		dir = "(in memory)"
	}
	fmt.Println("\tdata directory:\t\t", dir)
	fmt.Println("\tsession ttl:\t\t", s.sessionTTL)
	fmt.Println("\tresult cache ttl:\t", s.cacheTTL)
}
