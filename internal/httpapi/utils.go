package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
)

const maxBody = 1 << 20

func readAll(r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(nil, r.Body, limit)
	defer body.Close()
	return io.ReadAll(body)
}

func readJSON(r *http.Request, dst any) error {
	raw, err := readAll(r, maxBody)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(raw) == 0 {
		return errors.New("empty body")
	}
	return errors.Wrap(json.Unmarshal(raw, dst), "invalid json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, d int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}
