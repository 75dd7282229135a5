package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"foliosync/internal/folio"
)

// maxErrorBody caps how much of an error response body is kept for the
// error message.
const maxErrorBody = 2048

// validationDetail is the wire shape of a 422 response body.
type validationDetail struct {
	Detail []folio.FieldError `json:"detail"`
}

// errorFromResponse maps a non-2xx response to the folio taxonomy.
// 422 bodies are parsed into a ValidationError preserving every
// field-level message; everything else becomes an APIError.
func errorFromResponse(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var detail validationDetail
		if err := json.Unmarshal(body, &detail); err == nil && len(detail.Detail) > 0 {
			return &folio.ValidationError{Fields: detail.Detail}
		}
	}

	return &folio.APIError{
		StatusCode: resp.StatusCode,
		Endpoint:   endpoint,
		Body:       strings.TrimSpace(string(body)),
	}
}
