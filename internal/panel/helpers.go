package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rendis/skillscript/pkg/schema"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeScriptError maps a ScriptError code to an HTTP status.
func writeScriptError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var se *schema.ScriptError
	if errors.As(err, &se) {
		switch se.Code {
		case schema.ErrCodeValidation:
			status = http.StatusBadRequest
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeActorInvalid:
			status = http.StatusConflict
		}
	}
	writeError(w, status, err.Error())
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
