package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	errInvalidJSON    = errors.New("invalid_json")
	errInvalidRequest = errors.New("invalid_request")
)

// decodeBody reads a JSON body into dst and runs its validate tags.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errInvalidRequest
		}
		return errInvalidJSON
	}
	if err := validate.Struct(dst); err != nil {
		return errInvalidRequest
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	WriteHTTPError(w, http.StatusBadRequest, err.Error())
}
