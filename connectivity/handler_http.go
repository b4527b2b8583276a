package connectivity

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
)

// HTTPHandler exposes the router to HTTPFactory callers: a POST whose last
// path segment names the service, payload in the body, raw response out.
// Mount it under a prefix such as /rpc/.
func (r *Router) HTTPHandler(maxBody int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			httpError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		service := path.Base(req.URL.Path)
		payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBody))
		if err != nil {
			httpError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		resp, err := r.Call(req.Context(), service, payload)
		if err != nil {
			var nf *ErrServiceNotFound
			var open *ErrCircuitOpen
			switch {
			case errors.As(err, &nf):
				httpError(w, http.StatusNotFound, err)
			case errors.As(err, &open):
				httpError(w, http.StatusServiceUnavailable, err)
			default:
				r.logger.WarnContext(req.Context(), "connectivity: http call failed", "service", service, "error", err)
				httpError(w, http.StatusBadGateway, err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(resp)
	})
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
