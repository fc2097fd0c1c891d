package relay

import (
	"encoding/json"
	"errors"
	"net/http"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
	})
}

func writeRelayError(w http.ResponseWriter, err error) {
	var re *relayError
	if errors.As(err, &re) {
		writeError(w, re.status, re.msg)
		return
	}
	if errors.Is(err, errHubStopped) {
		writeError(w, http.StatusServiceUnavailable, "relay is shutting down")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
