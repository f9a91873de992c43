package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/pratik-mahalle/threatwatch/internal/feeds"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// writeErr writes err as an API error. Errors that are not AppErrors become a
// 500 with fallback as the message.
func writeErr(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	if stderrors.Is(err, feeds.ErrNotFound) {
		utils.WriteError(w, errors.NotFound("indicator at source"))
		return
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		if appErr.StatusCode >= http.StatusInternalServerError {
			log.ErrorWithErr(err, fallback)
		}
		utils.WriteError(w, appErr)
		return
	}
	log.ErrorWithErr(err, fallback)
	utils.WriteError(w, errors.Internal(fallback, err))
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// An empty body is accepted when allowEmpty is set.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, val *validator.Validator, dst interface{}, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && stderrors.Is(err, io.EOF)) {
			utils.WriteError(w, errors.BadRequest("Invalid request body"))
			return false
		}
	}

	if errs := val.Validate(dst); len(errs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", errs))
		return false
	}
	return true
}
