package eventlog

import (
	"context"
	"encoding/json"
	"io"
	logger "log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTransitTools/busstate/foundation/metrics"
	"github.com/gorilla/mux"
)

// maxBodyBytes bounds the size of an event posted over http
const maxBodyBytes = 64 << 10

// logRequest is the body posted to /log
type logRequest struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type statusResponse struct {
	Status string `json:"status"`
}

//logHandler accepts events posted by the web frontend
type logHandler struct {
	sink *Sink
}

//ServeHTTP implements logHandler's http.Handler interface. The caller never waits on the result so it always
//responds with 202
func (l *logHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil && len(body) == 0 {
		body = []byte("{}")
	}
	var request logRequest
	if err == nil {
		err = json.Unmarshal(body, &request)
	}
	if err != nil {
		l.sink.writeFailure(err, body)
		writeAccepted(w, "log_error")
		return
	}

	record := l.sink.newRecord(request.Message, request.Details)
	record.SourceIP = sourceIP(r)
	record.UserAgent = r.UserAgent()
	l.sink.Write(record, "http")
	writeAccepted(w, "logged")
}

//sourceIP returns the client address, preferring the first X-Forwarded-For entry set by a proxy
func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); len(forwarded) > 0 {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeAccepted(w http.ResponseWriter, status string) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(statusResponse{Status: status})
}

//preflightHandler answers CORS preflight requests
func preflightHandler(w http.ResponseWriter, _ *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

//createServer creates configured http.Server accepting events
func createServer(sink *Sink, collector *metrics.Collector, httpPort int) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Application-Status", "OK")
	}).Methods(http.MethodGet)
	r.Handle("/log", &logHandler{sink: sink}).Methods(http.MethodPost)
	r.HandleFunc("/log", preflightHandler).Methods(http.MethodOptions)
	if collector != nil {
		r.Handle("/metrics", collector.Handler())
	}
	return &http.Server{
		Addr:         strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
}

//RunWebService accepts events over http until shutdownSignal receives
func RunWebService(log *logger.Logger, sink *Sink, collector *metrics.Collector, httpPort int, shutdownSignal chan bool) error {
	srv := createServer(sink, collector, httpPort)
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
