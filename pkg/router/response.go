package router

import (
	"encoding/json"
	"net/http"
)

// Error is an error that knows how to write itself as an HTTP response.
type Error interface {
	error
	StatusCode() int
	Respond(w http.ResponseWriter) error
}

// JsonError is answered as {"code": ..., "error": ...} with Code as status.
type JsonError struct {
	Code int    `json:"code"`
	Err  string `json:"error"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{Code: code, Err: err}
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Respond(w http.ResponseWriter) error {
	return JSON(w, e.Code, e)
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	return err
}
