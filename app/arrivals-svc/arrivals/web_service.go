package arrivals

import (
	"context"
	"encoding/json"
	"errors"
	logger "log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//arrivalsHandler responds to arrival queries for a stop
type arrivalsHandler struct {
	log    *logger.Logger
	reader *Reader
}

type errorResponse struct {
	Error string `json:"error"`
}

//ServeHTTP implements arrivalsHandler's http.Handler interface
func (a *arrivalsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stopID := strings.TrimSpace(r.FormValue("stop_id"))
	if len(stopID) == 0 {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing stop_id"})
		return
	}
	result, err := a.reader.Arrivals(r.Context(), stopID)
	if errors.Is(err, ErrStopNotFound) {
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Stop not found"})
		return
	}
	if err != nil {
		a.log.Printf("error reading arrivals for stop %s: %v\n", stopID, err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error."})
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *arrivalsHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		a.log.Printf("Error marshaling response to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if _, err = w.Write(jsonData); err != nil {
		a.log.Printf("Error writing json response: %s", err)
	}
}

//createServer creates configured http.Server for responding to arrival requests
func createServer(log *logger.Logger, reader *Reader, collector *metrics.Collector, httpPort int) *http.Server {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{}).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/arrivals", gzhttp.GzipHandler(&arrivalsHandler{log: log, reader: reader})).Methods(http.MethodGet)
	if collector != nil {
		r.Handle("/metrics", collector.Handler())
	}
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

//RunWebService serves arrival requests until shutdownSignal receives
func RunWebService(log *logger.Logger,
	reader *Reader,
	collector *metrics.Collector,
	httpPort int,
	shutdownSignal chan os.Signal) error {

	srv := createServer(log, reader, collector, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-shutdownSignal:
		log.Printf("ending webservice on shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
