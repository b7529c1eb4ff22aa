package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/c360/certmgr/certmgr"
	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/health"
	"github.com/c360/certmgr/tlsobject"
)

type rootCAResponse struct {
	Cert string `json:"cert"`
}

type certResponse struct {
	Name   string `json:"name"`
	Target string `json:"target,omitempty"`
	Cert   string `json:"cert"`
}

type putCertRequest struct {
	Cert string `json:"cert"`
}

type putKeyRequest struct {
	Key string `json:"key"`
}

type pairRequest struct {
	CertName string `json:"cert_name"`
	Target   string `json:"target,omitempty"`
	Cert     string `json:"cert"`
	Key      string `json:"key"`
}

type checkResponse struct {
	Services []string           `json:"services"`
	Problems []certmgr.CertInfo `json:"problems"`
}

type prepareResponse struct {
	Ready bool   `json:"ready"`
	Cert  string `json:"cert,omitempty"`
	Key   string `json:"key,omitempty"`
}

type healthResponse struct {
	Status health.Status  `json:"status"`
	Checks []health.Check `json:"checks"`
}

// fail logs err and writes its sanitized form.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := apiError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("API request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("API request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, msg)
}

// decode reads a JSON body into v. Unknown fields are rejected.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func targetFor(kind tlsobject.Kind, name string, r *http.Request) tlsobject.Target {
	return tlsobject.DetermineTarget(kind, name, r.URL.Query().Get("target"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: health.NewHealthy("certmgr", "running"), Checks: []health.Check{}})
		return
	}

	status := s.monitor.AggregateHealth("certmgr")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	checks := s.monitor.Checks()
	if checks == nil {
		checks = []health.Check{}
	}
	writeJSON(w, code, healthResponse{Status: status, Checks: checks})
}

func (s *Server) handleRootCA(w http.ResponseWriter, r *http.Request) {
	cert, err := s.mgr.RootCA()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rootCAResponse{Cert: cert})
}

func (s *Server) handleCertLs(w http.ResponseWriter, r *http.Request) {
	include := r.URL.Query().Get("include_cephadm_signed") == "true"
	certs, err := s.mgr.CertLs(include)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, certs)
}

func (s *Server) handleKeyLs(w http.ResponseWriter, r *http.Request) {
	keys, err := s.mgr.KeyLs()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleGetCert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	target := targetFor(tlsobject.KindCert, name, r)

	cert, err := s.mgr.GetCert(name, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if cert == "" {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, certResponse{Name: name, Target: target.String(), Cert: cert})
}

func (s *Server) handlePutCert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req putCertRequest
	if !s.decode(w, r, &req) {
		return
	}
	if name == tlsobject.RootCACert {
		writeError(w, http.StatusForbidden, "the root CA cannot be replaced")
		return
	}
	if _, err := s.mgr.SSL().Inspect(req.Cert); err != nil {
		s.fail(w, r, err)
		return
	}

	target := targetFor(tlsobject.KindCert, name, r)
	if err := s.mgr.SaveCert(r.Context(), name, req.Cert, target, true); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Certificate stored through API", "cert", name, "target", target.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	target := targetFor(tlsobject.KindCert, name, r)
	if err := s.mgr.RmCert(r.Context(), name, target); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Certificate removed through API", "cert", name, "target", target.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req putKeyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if name == tlsobject.RootCAKey {
		writeError(w, http.StatusForbidden, "the root CA cannot be replaced")
		return
	}
	if _, err := certcrypto.ParsePEMPrivateKey([]byte(req.Key)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid private key")
		return
	}

	target := targetFor(tlsobject.KindKey, name, r)
	if err := s.mgr.SaveKey(r.Context(), name, req.Key, target, true); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Key stored through API", "key", name, "target", target.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	target := targetFor(tlsobject.KindKey, name, r)
	if err := s.mgr.RmKey(r.Context(), name, target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !s.decode(w, r, &req) {
		return
	}
	target := tlsobject.DetermineTarget(tlsobject.KindCert, req.CertName, req.Target)
	if err := s.mgr.SetCertKeyPair(r.Context(), req.CertName, req.Cert, req.Key, target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	services, err := s.mgr.CheckServicesCertificates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if services == nil {
		services = []string{}
	}
	writeJSON(w, http.StatusOK, checkResponse{Services: services, Problems: s.mgr.Problems()})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req certmgr.PrepareRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CertName == "" || req.KeyName == "" {
		writeError(w, http.StatusBadRequest, "cert_name and key_name are required")
		return
	}

	cert, key, err := s.mgr.PrepareCertificates(r.Context(), req)
	if err != nil {
		s.fail(w, r, errors.Wrap(err, "Server", "handlePrepare", "prepare "+req.CertName))
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse{Ready: cert != "", Cert: cert, Key: key})
}
