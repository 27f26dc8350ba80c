package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// pathID returns a trimmed path value, writing a 400 when it is empty.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := strings.TrimSpace(r.PathValue(name))
	if id == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New(name + " is required"),
		})
		return "", false
	}
	return id, true
}

// decodeOptionalJSON is DecodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	peek := make([]byte, 1)
	n, err := r.Body.Read(peek)
	if n == 0 && errors.Is(err, io.EOF) {
		return true
	}
	r.Body = readCloser{Reader: io.MultiReader(strings.NewReader(string(peek[:n])), r.Body), Closer: r.Body}
	return DecodeJSON(w, r, dst)
}

type readCloser struct {
	io.Reader
	io.Closer
}
