package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// Response is the envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    Meta        `json:"meta,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Category   errors.ErrorCategory `json:"category"`
	Code       errors.ErrorCode     `json:"code"`
	Message    string               `json:"message"`
	Suggestion string               `json:"suggestion,omitempty"`
	Context    errors.Context       `json:"context,omitempty"`
}

// Meta carries request bookkeeping such as the request id
type Meta map[string]interface{}

const metaKey = "api.meta"

func requestMeta(c *gin.Context) Meta {
	if v, ok := c.Get(metaKey); ok {
		if m, ok := v.(Meta); ok {
			return m
		}
	}
	m := Meta{}
	c.Set(metaKey, m)
	return m
}

func success(c *gin.Context, status int, data interface{}, extra Meta) {
	meta := requestMeta(c)
	for k, v := range extra {
		meta[k] = v
	}
	c.JSON(status, Response{Success: true, Data: data, Meta: meta})
}

// fail renders err in the envelope, with the HTTP status derived from its category
func fail(c *gin.Context, err error) {
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		re = errors.InternalError(errors.CodeUnexpectedError, c.FullPath(), err)
	}
	status := statusFor(re)
	if status >= http.StatusInternalServerError {
		logFrom(c).WithError(err).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &ErrorBody{
			Category:   re.Category,
			Code:       re.Code,
			Message:    re.Message,
			Suggestion: re.Suggestion,
			Context:    re.Context,
		},
		Meta: requestMeta(c),
	})
}

func statusFor(err *errors.ReconcilerError) int {
	switch err.Code {
	case errors.CodeNotFound, errors.CodeFileNotFound:
		return http.StatusNotFound
	case errors.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeSearchCancelled:
		return http.StatusRequestTimeout
	}
	switch err.Category {
	case errors.CategoryValidation, errors.CategoryParse, errors.CategoryFile, errors.CategoryConfiguration:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
