/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package testca serves the subset of the Fabric CA REST API used by the
// harness, backed by an in-memory cryptogen CA.
package testca

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
	"github.com/tebon/fabrictest/internal/cryptogen"
)

// Fabric CA error codes returned by the server.
const (
	CodeCANotFound     = 19
	CodeAuthentication = 20
	CodeBadRequest     = 10
)

// Enrollment records an accepted enrollment request.
type Enrollment struct {
	ID      string
	Profile string
	Label   string
	Hosts   []string
}

// Server is a Fabric CA double.
type Server struct {
	*httptest.Server

	Name    string
	Version string
	CA      *cryptogen.CA

	mutex       sync.Mutex
	users       map[string]string
	enrollments []Enrollment
}

// New creates an unstarted server for the CA name. users maps enrollment
// IDs to secrets.
func New(name string, ca *cryptogen.CA, users map[string]string) *Server {
	s := &Server{Name: name, Version: "1.5.7", CA: ca, users: map[string]string{}}
	for id, secret := range users {
		s.users[id] = secret
	}
	s.Server = httptest.NewUnstartedServer(s.Router())
	return s
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cainfo", s.handleInfo).Methods(http.MethodPost, http.MethodGet)
	api.HandleFunc("/enroll", s.handleEnroll).Methods(http.MethodPost)
	return r
}

// Enrollments returns the enrollments served so far.
func (s *Server) Enrollments() []Enrollment {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Enrollment(nil), s.enrollments...)
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Success  bool        `json:"success"`
	Result   interface{} `json:"result"`
	Errors   []apiError  `json:"errors"`
	Messages []apiError  `json:"messages"`
}

type serverInfo struct {
	CAName  string `json:"CAName"`
	CAChain string `json:"CAChain"`
	Version string `json:"Version,omitempty"`
}

func (s *Server) info() serverInfo {
	return serverInfo{
		CAName:  s.Name,
		CAChain: base64.StdEncoding.EncodeToString(s.CA.CertBytes()),
		Version: s.Version,
	}
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	if resp.Errors == nil {
		resp.Errors = []apiError{}
	}
	if resp.Messages == nil {
		resp.Messages = []apiError{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, response{Errors: []apiError{{Code: code, Message: msg}}})
}

func (s *Server) checkName(w http.ResponseWriter, name string) bool {
	if name != "" && name != s.Name {
		writeError(w, http.StatusNotFound, CodeCANotFound, "CA '"+name+"' does not exist")
		return false
	}
	return true
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	req := struct {
		CAName string `json:"caname"`
	}{}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if !s.checkName(w, req.CAName) {
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Result: s.info()})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	s.mutex.Lock()
	expected, known := s.users[id]
	s.mutex.Unlock()
	if !ok || !known || expected != secret {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "Authentication failure")
		return
	}

	req := struct {
		CertificateRequest string   `json:"certificate_request"`
		CAName             string   `json:"caname"`
		Profile            string   `json:"profile"`
		Label              string   `json:"label"`
		Hosts              []string `json:"hosts"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.checkName(w, req.CAName) {
		return
	}

	cert, err := s.CA.SignCSR([]byte(req.CertificateRequest))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	s.mutex.Lock()
	s.enrollments = append(s.enrollments, Enrollment{ID: id, Profile: req.Profile, Label: req.Label, Hosts: req.Hosts})
	s.mutex.Unlock()

	writeJSON(w, http.StatusCreated, response{
		Success: true,
		Result: struct {
			Cert       string     `json:"Cert"`
			ServerInfo serverInfo `json:"ServerInfo"`
		}{
			Cert:       base64.StdEncoding.EncodeToString(cert),
			ServerInfo: s.info(),
		},
	})
}
