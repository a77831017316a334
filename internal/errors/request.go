package errors

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
)

// DecodeJSON reads a JSON request body into dst. An empty body is an error
// unless allowEmpty is set, in which case dst is left untouched.
func DecodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return BadRequest("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return BadRequest("request body is required")
		}
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return New(CodeInvalidRequest, "request body too large", CategoryClient, http.StatusRequestEntityTooLarge)
		}
		return BadRequest("invalid request body").WithCause(err)
	}
	return nil
}
