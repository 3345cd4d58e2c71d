package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// BindAndValidate binds the JSON body into out and runs validation.
// On failure it writes a 400 response and returns the error so the handler can stop.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return apperr.New(apperr.CodeValidation, "invalid request body",
			apperr.WithStatus(http.StatusBadRequest), apperr.WithCause(err))
	}

	if err := Check(v, out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  apperr.CodeValidation,
			"fields": FieldErrors(errorsCause(err)),
		})
		return err
	}
	return nil
}

func errorsCause(err error) error {
	if e, ok := err.(*apperr.Error); ok && e.Cause != nil {
		return e.Cause
	}
	return err
}
