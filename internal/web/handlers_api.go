package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

// requester identifies the caller from X-Caller-UID and X-Caller-Package.
// Requests without a UID act as the system.
func requester(r *http.Request) (repository.Requester, error) {
	raw := r.Header.Get("X-Caller-UID")
	if raw == "" {
		return repository.Requester{UID: profile.SystemUID, Package: "android"}, nil
	}
	uid, err := strconv.Atoi(raw)
	if err != nil || uid < 0 {
		return repository.Requester{}, errors.New("invalid X-Caller-UID")
	}
	return repository.Requester{UID: uid, Package: r.Header.Get("X-Caller-Package")}, nil
}

// statusFor maps a repository error to an HTTP status.
func statusFor(err error) int {
	switch repository.RejectReason(err) {
	case repository.RejectInvalidID:
		return http.StatusNotFound
	case repository.RejectPermissionDenied:
		return http.StatusForbidden
	case repository.RejectMalformed:
		return http.StatusBadRequest
	case repository.RejectCapacity:
		return http.StatusInsufficientStorage
	case repository.RejectNotLoaded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("api request failed", "err", err)
		s.writeJSON(w, code, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, code, map[string]string{
		"error":  err.Error(),
		"reason": repository.RejectReason(err).String(),
	})
}

// decode reads a JSON body of at most 1 MB into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// withCaller parses the requester and, when the path has one, the profile id.
func (s *Server) withCaller(w http.ResponseWriter, r *http.Request) (repository.Requester, int, bool) {
	req, err := requester(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return req, 0, false
	}
	raw := r.PathValue("id")
	if raw == "" {
		return req, profile.InvalidID, true
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid profile id"})
		return req, 0, false
	}
	return req, id, true
}

// run executes fn on the repository loop and writes either the error or
// result as JSON.
func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func(*repository.Repository) (any, error)) {
	var result any
	err := s.runner.Do(r.Context(), func(repo *repository.Repository) error {
		var err error
		result, err = fn(repo)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result == nil {
		result = map[string]string{"status": "ok"}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAPIListProfiles(w http.ResponseWriter, r *http.Request) {
	req, _, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		list := repo.List(req)
		if list == nil {
			list = []*profile.Profile{}
		}
		return list, nil
	})
}

func (s *Server) handleAPIGetProfile(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		p, ok := repo.Get(id, req)
		if !ok {
			return nil, repository.ErrInvalidID
		}
		return p, nil
	})
}

func (s *Server) handleAPIAddProfile(w http.ResponseWriter, r *http.Request) {
	req, _, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	// Fields the body omits keep the defaults of a new profile.
	in := profile.New("", profile.SecurityOpen)
	in.Variants = nil
	if !s.decode(w, r, in) {
		return
	}
	if len(in.Variants) == 0 {
		in.Variants = []profile.SecurityVariant{{Type: in.DefaultSecurity, Enabled: true}}
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return repo.AddOrUpdate(in, req)
	})
}

func (s *Server) handleAPIRemoveProfile(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		removed, err := repo.Remove(id, req)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"removed": removed}, nil
	})
}

type enableRequest struct {
	DisableOthers bool `json:"disable_others"`
}

func (s *Server) handleAPIEnable(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	var body enableRequest
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.EnableNetwork(id, body.DisableOthers, req)
	})
}

func (s *Server) handleAPIDisable(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.DisableNetwork(id, req)
	})
}

type autojoinRequest struct {
	Allow bool `json:"allow"`
}

func (s *Server) handleAPIAutojoin(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	var body autojoinRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.AllowAutojoin(id, body.Allow, req)
	})
}

func (s *Server) handleAPIGetStatus(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		st, ok := repo.SelectionStatus(id)
		if !ok {
			return nil, repository.ErrInvalidID
		}
		return map[string]any{
			"status":            st,
			"autojoin_eligible": repo.IsAutojoinEligible(id),
		}, nil
	})
}

type statusRequest struct {
	Reason profile.DisableReason `json:"reason"`
}

func (s *Server) handleAPIUpdateStatus(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	var body statusRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		if err := repo.UpdateSelectionStatus(id, body.Reason); err != nil {
			return nil, err
		}
		st, _ := repo.SelectionStatus(id)
		return st, nil
	})
}

func (s *Server) handleAPIGetMAC(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		mac, err := repo.UsableMAC(id)
		if err != nil {
			return nil, err
		}
		return map[string]profile.MAC{"mac": mac}, nil
	})
}

func (s *Server) handleAPIScanCache(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		list := repo.ScanCache(id)
		if list == nil {
			list = []repository.Sighting{}
		}
		return list, nil
	})
}

func (s *Server) handleAPILinked(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		keys := repo.Linked(id)
		if keys == nil {
			keys = []string{}
		}
		return keys, nil
	})
}

func (s *Server) handleAPIConnected(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.OnConnected(id)
	})
}

type disconnectRequest struct {
	LeaseSeconds int `json:"lease_seconds"`
}

func (s *Server) handleAPIDisconnected(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	var body disconnectRequest
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.OnDisconnect(id, time.Duration(body.LeaseSeconds)*time.Second)
	})
}

type connectionSuccessRequest struct {
	RSSI int `json:"rssi"`
}

func (s *Server) handleAPIConnectionSuccess(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	var body connectionSuccessRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.OnConnectionSuccess(id, body.RSSI)
	})
}

type gatewayRequest struct {
	MAC string `json:"mac"`
}

func (s *Server) handleAPIGateway(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	var body gatewayRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.SetGatewayMAC(id, body.MAC)
	})
}

func (s *Server) handleAPICaptivePortal(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.withCaller(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.OnCaptivePortal(id)
	})
}

func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	var sightings []repository.Sighting
	if !s.decode(w, r, &sightings) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return map[string][]int{"matched": repo.IngestScan(sightings)}, nil
	})
}

type candidatesRequest struct {
	IDs []int `json:"ids"`
}

func (s *Server) handleAPICandidates(w http.ResponseWriter, r *http.Request) {
	var body candidatesRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		repo.SetSelectionCandidates(body.IDs)
		return nil, nil
	})
}

func (s *Server) handleAPIListUserDisabled(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		names := repo.UserDisabledNames()
		if names == nil {
			names = []string{}
		}
		return names, nil
	})
}

type userDisableRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIUserDisable(w http.ResponseWriter, r *http.Request) {
	var body userDisableRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		repo.UserTemporarilyDisable(body.Name)
		return nil, nil
	})
}

func (s *Server) handleAPIUserEnable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		repo.UserEnable(name)
		return nil, nil
	})
}

type carrierRequest struct {
	SubscriptionID int `json:"subscription_id"`
}

func (s *Server) handleAPICarrierRestrict(w http.ResponseWriter, r *http.Request) {
	var body carrierRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		repo.StartRestrictingAutojoinToSubscription(body.SubscriptionID)
		return nil, nil
	})
}

func (s *Server) handleAPICarrierRelease(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		repo.StopRestrictingAutojoinToSubscription()
		return nil, nil
	})
}

func (s *Server) handleAPICellularLost(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		repo.OnCellularConnectivityLost()
		return nil, nil
	})
}

func (s *Server) userParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	user, err := strconv.Atoi(r.PathValue("user"))
	if err != nil || user < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return 0, false
	}
	return user, true
}

type userSwitchRequest struct {
	Unlocked bool `json:"unlocked"`
}

func (s *Server) handleAPIUserSwitch(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	var body userSwitchRequest
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.HandleUserSwitch(user, body.Unlocked)
	})
}

func (s *Server) handleAPIUserUnlock(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.HandleUserUnlock(user)
	})
}

func (s *Server) handleAPIUserStop(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.HandleUserStop(user)
	})
}

func (s *Server) handleAPIFlush(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	s.run(w, r, func(repo *repository.Repository) (any, error) {
		return nil, repo.Flush(force)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
