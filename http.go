package mycodo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
)

const httpTimeoutsMs = 3000

// StartServer exposes sensor status, calibration and metrics over HTTP.
// Calibration requires the configured token in the path.
func (d *Daemon) StartServer() {
	handler := httprouter.New()
	handler.GET("/health", d.handleHealth)
	handler.GET("/sensors", d.handleSensors)
	handler.POST("/calibrate/:id/token/:token", d.handleCalibrate)
	handler.Handler(http.MethodGet, "/metrics", d.metrics.Handler())

	httpTimeout := httpTimeoutsMs * time.Millisecond

	d.server = &http.Server{
		Addr:              d.Listen,
		Handler:           handler,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	d.serverErr = make(chan error)

	go func() {
		d.serverErr <- d.server.ListenAndServe()
	}()

	log.Info("http server listening", "addr", d.Listen)
}

func (d *Daemon) findSensor(id string) *PhSensor {
	for _, ph := range d.PhSensors {
		if strings.EqualFold(ph.Id, id) {
			return ph
		}
	}

	return nil
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprintln(w, "ok")
}

func (d *Daemon) handleSensors(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	statuses := []SensorStatus{}
	for _, ph := range d.PhSensors {
		statuses = append(statuses, ph.Status())
	}

	writeJson(w, statuses)
}

func (d *Daemon) handleCalibrate(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !strings.EqualFold(p.ByName("token"), d.Token) {
		http.Error(w, "token mismatch", http.StatusUnauthorized)
		return
	}

	ph := d.findSensor(p.ByName("id"))
	if ph == nil {
		http.Error(w, "sensor not found", http.StatusNotFound)
		return
	}

	var req CalibrationRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "bad calibration request", http.StatusBadRequest)
		return
	}

	writeJson(w, ph.Calibrate(req))
}

func writeJson(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		log.Error("failed to encode response", "err", err)
	}
}
