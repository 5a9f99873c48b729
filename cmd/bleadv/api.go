package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/device"
)

type entityView struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Attrs map[string]any `json:"attrs"`
}

type deviceView struct {
	Name     string             `json:"name"`
	Codec    string             `json:"codec"`
	Adapters []string           `json:"adapters"`
	Config   codec.DeviceConfig `json:"config"`
	Entities []entityView       `json:"entities"`
}

func viewOf(d *device.Device) deviceView {
	v := deviceView{Name: d.Name(), Codec: d.Codec.ID(), Adapters: d.Adapters, Config: d.TxConfig()}
	for _, e := range d.Entities() {
		v.Entities = append(v.Entities, entityView{Type: e.BaseType, Index: e.Index, Attrs: e.Attrs()})
	}
	return v
}

// deviceAPI exposes the served devices over HTTP:
//
//	GET  /devices
//	POST /devices/{name}/{type}/{index}  {"on": true, "br": 0.5}
//	POST /devices/{name}/cmd/{cmd}       {"s": 3600}
type deviceAPI struct {
	devices map[string]*device.Device
	order   []string
	logger  *logrus.Logger
}

func newDeviceAPI(devs []*device.Device, logger *logrus.Logger) *deviceAPI {
	a := &deviceAPI{devices: make(map[string]*device.Device, len(devs)), logger: logger}
	for _, d := range devs {
		a.devices[d.Name()] = d
		a.order = append(a.order, d.Name())
	}
	return a
}

// newServeMux serves the device API and the metrics of reg.
func newServeMux(reg *prometheus.Registry, api *deviceAPI) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /devices", api.list)
	mux.HandleFunc("POST /devices/{name}/cmd/{cmd}", api.deviceCmd)
	mux.HandleFunc("POST /devices/{name}/{type}/{index}", api.setState)
	return mux
}

func (a *deviceAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.WithError(err).Debug("Cannot write response")
	}
}

func (a *deviceAPI) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, device.ErrUnknownEntity), errors.Is(err, errUnknownDevice):
		status = http.StatusNotFound
	case errors.Is(err, device.ErrNoCommand), errors.Is(err, ErrInvalidInput):
		status = http.StatusUnprocessableEntity
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errUnknownDevice = errors.New("unknown device")

func (a *deviceAPI) lookup(r *http.Request) (*device.Device, map[string]any, error) {
	d, ok := a.devices[r.PathValue("name")]
	if !ok {
		return nil, nil, errUnknownDevice
	}
	var attrs map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			return nil, nil, errors.Join(ErrInvalidInput, err)
		}
	}
	return d, attrs, nil
}

func (a *deviceAPI) list(w http.ResponseWriter, _ *http.Request) {
	out := make([]deviceView, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, viewOf(a.devices[name]))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *deviceAPI) setState(w http.ResponseWriter, r *http.Request) {
	d, attrs, err := a.lookup(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		a.writeError(w, errors.Join(ErrInvalidInput, err))
		return
	}
	if err := d.SetState(r.Context(), r.PathValue("type"), index, attrs); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewOf(d))
}

func (a *deviceAPI) deviceCmd(w http.ResponseWriter, r *http.Request) {
	d, attrs, err := a.lookup(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := d.SendDeviceCmd(r.Context(), r.PathValue("cmd"), attrs); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewOf(d))
}
