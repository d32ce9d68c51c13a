package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"zigbee-descriptors/internal/coordinator"
	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/store"
)

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleAPIListDescriptors(w http.ResponseWriter, r *http.Request) {
	all := s.coord.Descriptors().All()
	out := make([]descriptor.Info, 0, len(all))
	for _, d := range all {
		out = append(out, d.Info())
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Registry().All())
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Devices().ListDevices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if devices == nil {
		devices = []*store.Device{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

// pathIEEE normalizes the {ieee} path value to the stored form.
func (s *Server) pathIEEE(w http.ResponseWriter, r *http.Request) (string, bool) {
	ieee, err := coordinator.ParseIEEE(r.PathValue("ieee"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid ieee address")
		return "", false
	}
	return coordinator.FormatIEEE(ieee), true
}

// lookupDevice writes the error response itself when it returns false.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return nil, false
	}
	dev, err := s.coord.Devices().GetDevice(ieee)
	if err != nil {
		s.writeStoreError(w, err, "get device")
		return nil, false
	}
	return dev, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	s.logger.Error(op, "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return
	}
	if err := s.coord.Devices().RemoveDevice(r.Context(), ieee); err != nil {
		s.writeStoreError(w, err, "delete device")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListAttempts(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	attempts, err := s.coord.Store().ListAttempts(dev.IEEEAddress)
	if err != nil {
		s.writeStoreError(w, err, "list attempts")
		return
	}
	if attempts == nil {
		attempts = []store.Attempt{}
	}
	s.writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleAPIReconfigure(w http.ResponseWriter, r *http.Request) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return
	}
	err := s.coord.Devices().Reconfigure(r.Context(), ieee)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, coordinator.ErrNotInterviewed), errors.Is(err, coordinator.ErrNoDescriptor),
		errors.Is(err, coordinator.ErrPairingInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		// The device rejected or did not answer the configure requests.
		s.logger.Warn("reconfigure", "err", err, "ieee", ieee)
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

type readAttributesRequest struct {
	Endpoint  uint8    `json:"endpoint"`
	ClusterID uint16   `json:"cluster_id"`
	AttrIDs   []uint16 `json:"attr_ids"`
}

func (s *Server) handleAPIReadAttributes(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req readAttributesRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.AttrIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "attr_ids must not be empty")
		return
	}
	if len(req.AttrIDs) > 50 {
		s.writeError(w, http.StatusBadRequest, "attr_ids limited to 50")
		return
	}

	results, err := s.coord.ReadAttributes(r.Context(), dev.ShortAddress, req.Endpoint, req.ClusterID, req.AttrIDs)
	if err != nil {
		s.logger.Warn("read attributes", "err", err, "ieee", dev.IEEEAddress)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) pathShort(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	v, err := strconv.ParseUint(r.PathValue("short"), 0, 16)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid short address")
		return 0, false
	}
	return uint16(v), true
}

// handleAPISimAnnounce joins a virtual device. Pairing continues in the
// background; progress is visible on /ws and /api/devices.
func (s *Server) handleAPISimAnnounce(w http.ResponseWriter, r *http.Request) {
	short, ok := s.pathShort(w, r)
	if !ok {
		return
	}
	if err := s.sim.Announce(short); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "announced"})
}

func (s *Server) handleAPISimLeave(w http.ResponseWriter, r *http.Request) {
	short, ok := s.pathShort(w, r)
	if !ok {
		return
	}
	if err := s.sim.Leave(short); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}
