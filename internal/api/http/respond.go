package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook/sqlstore"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report JSON names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, err := gradebook.ParseCategory(fl.Field().String())
		return err == nil
	})
	return v
}

type errorBody struct {
	Error      string                      `json:"error"`
	Reason     string                      `json:"reason,omitempty"`
	Fields     map[string]string           `json:"fields,omitempty"`
	Diagnostic *gradebook.WeightDiagnostic `json:"diagnostic,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("bad json: " + err.Error())
	}
	return validate.Struct(dst)
}

type badRequest string

func (b badRequest) Error() string { return string(b) }

// respondError maps engine and storage errors onto status codes.
func respondError(w http.ResponseWriter, err error) {
	var (
		verrs validator.ValidationErrors
		bad   badRequest
		iw    *gradebook.InvalidWeightsError
	)
	switch {
	case errors.As(err, &verrs):
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fieldMessage(fe)
		}
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
	case errors.As(err, &bad):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: bad.Error()})
	case errors.As(err, &iw):
		d := gradebook.WeightDiagnostic{
			SectionID: iw.SectionID,
			Sum:       iw.Sum,
			Deviation: iw.Deviation,
			Reason:    iw.Reason(),
			Message:   iw.Error(),
		}
		respondJSON(w, http.StatusUnprocessableEntity, errorBody{Error: iw.Error(), Reason: iw.Reason(), Diagnostic: &d})
	case gradebook.IsInvalid(err):
		respondJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Reason: gradebook.ReasonOf(err)})
	case errors.Is(err, sqlstore.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, sqlstore.ErrSectionMismatch),
		errors.Is(err, sqlstore.ErrInvalidPoints),
		errors.Is(err, queue.ErrBadTrigger):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// fieldPath drops the Go struct name from the namespace, e.g. "weights[0].category".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "category":
		return "must be one of practice, quiz, exam, project, final-exam"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "unique":
		return "must not repeat " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
