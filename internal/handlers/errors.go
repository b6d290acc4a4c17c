package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"familyledger/internal/apperr"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// respondWithError translates err for op and writes the public error. The
// cause is logged here and never leaves the server.
func respondWithError(w http.ResponseWriter, op apperr.Op, logMsg string, err error) {
	pub := apperr.Translate(op, err)
	if pub == nil {
		pub = apperr.New(apperr.CodeInternal, apperr.MsgGeneric)
	}
	if pub.Cause != nil {
		if logMsg == "" {
			logMsg = string(op)
		}
		log.Printf("%s: %s: %v", logMsg, pub.Code, pub.Cause)
	}

	respondWithJSON(w, pub.HTTPStatus(), errorResponse{
		Error: errorDetail{Code: pub.Code, Message: pub.Message},
	})
}

type successResponse struct {
	Success bool `json:"success"`
}

func respondOK(w http.ResponseWriter) {
	respondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

var errInvalidBody = apperr.New(apperr.CodeValidation, "Invalid request body")

// decodeJSON reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Wrap(errInvalidBody.Code, errInvalidBody.Message, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.CodeValidation, "Invalid "+name)
	}
	return id, nil
}
