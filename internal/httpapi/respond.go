package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/panelauth"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

type errorBody struct {
	Error             string `json:"error"`
	Kind              string `json:"kind"`
	Ref               string `json:"ref,omitempty"`
	Detail            string `json:"detail,omitempty"`
	RetryAfter        int    `json:"retryAfter,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

// writeOutcome applies the cookie instructions of out and then answers
// according to its kind: a redirect becomes 303 See Other, rendered data
// becomes a 200 JSON body.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out panelauth.Outcome) {
	s.transport.Apply(w, out)

	switch out.Kind {
	case panelauth.OutcomeRedirect:
		http.Redirect(w, r, out.Target, http.StatusSeeOther)
	case panelauth.OutcomeRendered:
		data := out.Data
		if data == nil {
			data = map[string]any{}
		}
		writeJSON(w, http.StatusOK, data)
	default:
		if out.Failure == nil {
			writeFailure(w, panelauth.Classify(errors.New("outcome without failure")))
			return
		}
		writeFailure(w, *out.Failure)
	}
}

// writeError classifies err. Internal failures are logged under their
// correlation id before the generic message goes out.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, errBadBody) {
		writeFailure(w, panelauth.Failure{
			Kind:    panelauth.FailureValidation,
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
		return
	}
	f := panelauth.Classify(err)
	if f.Kind == panelauth.FailureInternal {
		s.log.Error(r.Context(), "request failed", "op", op, "path", r.URL.Path, "correlation_id", f.CorrelationID, "error", err)
		if s.engine.Config().Debug.Verbose {
			f.Detail = err.Error()
		}
	}
	writeFailure(w, f)
}

func writeFailure(w http.ResponseWriter, f panelauth.Failure) {
	body := errorBody{
		Error:             f.Message,
		Kind:              f.Kind.String(),
		Ref:               f.CorrelationID,
		Detail:            f.Detail,
		AttemptsRemaining: f.AttemptsRemaining,
	}
	if f.RetryAfter > 0 {
		secs := int(math.Ceil(f.RetryAfter.Seconds()))
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	status := f.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errBadBody
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
