package auth

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	apperrors "transfer-relay/errors"
)

var validate = validator.New()

// InitiateRequest carries the fields an initiation frame must provide.
// The code shape is pinned here so garbage codes are rejected before any
// registry lookup happens.
type InitiateRequest struct {
	TransferCode string `validate:"required,len=8,uppercase,alphanum"`
	RecipientID  string `validate:"required,min=1,max=64"`
}

func ValidateInitiate(req InitiateRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidTransferCode, err)
	}
	return nil
}
