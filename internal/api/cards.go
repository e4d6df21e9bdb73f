package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/logging"
)

// maxBodyBytes caps card operation request bodies.
const maxBodyBytes = 64 * 1024

// params are the loosely typed inputs of a card operation, from a query
// string, a JSON body or a WebSocket payload.
type params map[string]any

func (p params) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// buildRequest maps params onto a driver request. Missing numbers fall back
// to the driver defaults; the dispatcher does the rest of the validation.
func buildRequest(kind driver.Kind, p params) driver.Request {
	req := driver.Request{
		Kind:   kind,
		Reader: gateway.IntOrDefault(p["reader"], driver.AutoReader),
	}
	switch kind {
	case driver.KindLiteInfo:
		req.Version = p.str("version")
	case driver.KindRawAPDU:
		req.APDU = p.str("apdu")
	case driver.KindType4Info:
		req.AID = p.str("aid")
	case driver.KindType4Read:
		req.AID = p.str("aid")
		req.Offset = gateway.IntOrDefault(p["offset"], driver.DefaultReadOffset)
		req.Length = gateway.IntOrDefault(p["length"], driver.DefaultReadLength)
	case driver.KindType4Write:
		req.AID = p.str("aid")
		req.Offset = gateway.IntOrDefault(p["offset"], driver.DefaultReadOffset)
		req.Data = p.str("data")
	}
	return req
}

// decodeParams reads a JSON object. An empty input is an empty object.
func decodeParams(raw []byte) (params, error) {
	p := params{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// requestParams merges the query string with a JSON body, the body winning.
func requestParams(r *http.Request) (params, error) {
	p := params{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			p[key] = values[0]
		}
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return p, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxBodyBytes {
		return nil, errors.New("body too large")
	}
	body, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range body {
		p[k] = v
	}
	return p, nil
}

// cardOperation answers with the result document and status 200 whatever the
// outcome; only malformed requests get a 4xx.
func (s *Server) cardOperation(kind driver.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := requestParams(r)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   fmt.Sprintf("invalid request body: %v", err),
			})
			return
		}
		res := s.dispatcher.Execute(r.Context(), buildRequest(kind, p))
		respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleListReaders(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindListReaders)(w, r)
}

func (s *Server) handleReadUID(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindReadUID)(w, r)
}

func (s *Server) handleLiteInfo(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindLiteInfo)(w, r)
}

func (s *Server) handleRawAPDU(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindRawAPDU)(w, r)
}

func (s *Server) handleType4Info(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindType4Info)(w, r)
}

func (s *Server) handleType4Read(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindType4Read)(w, r)
}

func (s *Server) handleType4Write(w http.ResponseWriter, r *http.Request) {
	s.cardOperation(driver.KindType4Write)(w, r)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.dispatcher.History().List())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.ClearHistory()
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "History cleared",
	})
}

// handleClearLog acknowledges a transaction log clear. HTTP callers keep
// their own log; WebSocket sessions clear theirs with clear_log.
func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	logging.Debug(logging.CatHTTP, "Client cleared its transaction log", nil)
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Log cleared",
	})
}
