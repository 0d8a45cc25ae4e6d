package refund

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/methods"
)

// CreateInput is the caller-supplied shape for a new refund request.
type CreateInput struct {
	TransactionID string               `validate:"required"`
	MerchantID    string               `validate:"required"`
	Amount        int64                `validate:"required,gt=0"`
	Currency      string               `validate:"required,iso4217"`
	Method        methods.RefundMethod `validate:"omitempty,oneof=ORIGINAL_PAYMENT BALANCE BANK_TRANSFER WALLET"`
	ReasonCode    string               `validate:"omitempty,max=64"`
	Reason        string               `validate:"required,max=500"`
	BankAccountID string               `validate:"required_if=Method BANK_TRANSFER"`
	CreatedBy     string               `validate:"required"`

	Metadata            map[string]string
	SupportingDocuments []string
}

var validate = validator.New()

// validateInput converts validator failures into the field-level taxonomy.
func validateInput(in CreateInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.NewValidationError(errors.ErrCodeInvalidField, "", err.Error())
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch {
	case fe.Field() == "Amount":
		return errors.NewValidationError(errors.ErrCodeInvalidAmount, field, "amount must be positive")
	case fe.Tag() == "required" || fe.Tag() == "required_if":
		return errors.NewValidationError(errors.ErrCodeMissingField, field, field+" is required")
	case fe.Field() == "Currency":
		return errors.NewValidationError(errors.ErrCodeInvalidCurrency, field, "currency must be an ISO 4217 code")
	default:
		return errors.NewValidationError(errors.ErrCodeInvalidField, field, "invalid value for "+field)
	}
}
