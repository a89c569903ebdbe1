package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("unexpected empty response body")
		}

		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return respBody, nil
}

// The gateway reports errors inside an "error" object of an HTTP 200
// response. A JSON array there means no error, an object maps error
// names to messages.
func ResponseHasError(b []byte) bool {
	errField := gjson.GetBytes(b, "error")
	if !errField.Exists() {
		return false
	}

	return errField.IsObject() && len(errField.Map()) > 0
}

func IsInvalidTokenResponse(b []byte) bool {
	return gjson.GetBytes(b, "error.VALID_TOKEN_REQUIRED").Exists() ||
		gjson.GetBytes(b, "error.GATEWAY_ERROR").Exists()
}

func IsDataErrorResponse(b []byte) bool {
	return gjson.GetBytes(b, "error.DATA_ERROR").Exists()
}
