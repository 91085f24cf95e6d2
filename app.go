package inventory

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"inventory/db"
	"inventory/events"
	"inventory/telemetry"
)

type app struct {
	router   *mux.Router
	server   *http.Server
	db       db.DB
	events   events.Publisher
	logger   *zap.Logger
	tp       trace.TracerProvider
	tracer   trace.Tracer
	limiter  *rate.Limiter
	shutdown telemetry.Shutdown
	addr     string
	broker   string
	topic    string
	otlp     string
	timeout  time.Duration
	rps      float64
	burst    int
	debug    bool
}

func (a *app) serve() int {
	done := make(chan os.Signal, 1)

	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("listen", zap.Error(err))
		}
	}()

	a.logger.Info("server started", zap.String("addr", a.addr))
	<-done
	a.logger.Info("server stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	defer func() {
		cancel()
		a.logger.Info("server stopped")
		_ = a.logger.Sync()
	}()

	code := 0

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown", zap.Error(err))
		code = -1
	}

	if err := a.events.Close(); err != nil {
		a.logger.Error("event publisher close", zap.Error(err))
	}

	if err := a.shutdown(ctx); err != nil {
		a.logger.Error("telemetry shutdown", zap.Error(err))
	}

	return code
}

func (a *app) setupTelemetry(ctx context.Context) error {
	lp, logShutdown, err := telemetry.SetupLogging(ctx, a.otlp)

	if err != nil {
		return err
	}

	tp, traceShutdown, err := telemetry.SetupTracing(ctx, a.otlp)

	if err != nil {
		_ = logShutdown(ctx)
		return err
	}

	a.tp = tp
	a.logger = telemetry.NewLogger(a.debug, lp)
	a.shutdown = telemetry.Join(traceShutdown, logShutdown)

	return nil
}

func (a *app) createClient() {
	a.db = db.NewClient(a.tp)

	if a.broker == "" {
		a.events = events.Nop{}
		return
	}

	a.events = events.NewKafkaPublisher(a.broker, a.topic)
	a.logger.Info("publishing changes", zap.String("broker", a.broker), zap.String("topic", a.topic))
}

func (a *app) makeServer() {
	a.server = &http.Server{
		Addr:    a.addr,
		Handler: a.router,

		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 20 * time.Second,
	}
}

func (a *app) addRoutes() {
	a.tracer = a.tp.Tracer("inventory/http")

	a.router.Use(a.logRequest)
	a.router.Use(a.traceRequest)

	if a.rps > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(a.rps), a.burst)
		a.router.Use(a.limit)
	}

	if a.timeout > 0 {
		a.router.Use(a.withDeadline)
	}

	a.router.HandleFunc("/health", a.health).Methods("GET")

	a.router.HandleFunc("/get-item/{item_id}", a.get).Methods("GET")
	a.router.HandleFunc("/get-by-name", a.getByName).Methods("GET")
	a.router.HandleFunc("/create-item/{item_id}", a.add).Methods("POST")
	a.router.HandleFunc("/update-item/{item_id}", a.put).Methods("PUT")
	a.router.HandleFunc("/delete-item", a.drop).Methods("DELETE")

	if a.debug {
		a.router.HandleFunc("/debug/items", a.list).Methods("GET")
	}
}

func (a *app) fromArgs(args []string) error {
	fl := flag.NewFlagSet("inventory", flag.ContinueOnError)

	fl.StringVar(&a.addr, "addr", "localhost:8080", "server address")
	fl.DurationVar(&a.timeout, "time", 5*time.Second, "method timeout")

	fl.Float64Var(&a.rps, "rps", 0, "requests per second, 0 for no limit")
	fl.IntVar(&a.burst, "burst", 10, "rate limiter burst")

	fl.StringVar(&a.broker, "kafka", "", "Kafka broker for change events")
	fl.StringVar(&a.topic, "topic", "inventory-changes", "Kafka topic")
	fl.StringVar(&a.otlp, "otel", "", "OTLP/HTTP endpoint for traces and logs")

	fl.BoolVar(&a.debug, "debug", false, "enable debugging")

	if err := fl.Parse(args); err != nil {
		return err
	}

	return nil
}

func (a *app) listRoutes() {
	visit := func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		t, err := route.GetPathTemplate()

		if err != nil {
			return err
		}

		m, err := route.GetMethods()

		if err != nil {
			return err
		}

		a.logger.Debug("route", zap.String("path", t), zap.Strings("methods", m))
		return nil
	}

	if err := a.router.Walk(visit); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func RunApp(args []string) int {
	a := app{router: mux.NewRouter()}

	if err := a.fromArgs(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return -2
	}

	if err := a.setupTelemetry(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return -2
	}

	a.createClient()
	a.makeServer()
	a.addRoutes()

	if a.debug {
		a.listRoutes()
	}

	return a.serve()
}
