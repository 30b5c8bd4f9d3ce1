// Package storage provides the data persistence layer for the application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/subscout/subscout/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrInvalidEmailRecord  = errors.New("invalid email record")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidAlert        = errors.New("invalid alert")
	ErrInvalidVendor       = errors.New("invalid vendor")
	ErrInvalidAccount      = errors.New("invalid account")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateEmailRecord validates a processing record before it is written.
func validateEmailRecord(record *model.EmailRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if record.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEmailRecord)
	}
	if record.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidEmailRecord)
	}
	if record.ExternalID == "" {
		return fmt.Errorf("%w: missing external ID", ErrInvalidEmailRecord)
	}
	if record.ReceivedAt.IsZero() {
		return fmt.Errorf("%w: missing received time", ErrInvalidEmailRecord)
	}
	return nil
}

// validateSubscription validates a subscription before it is written.
func validateSubscription(sub *model.Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription", ErrNilParameter)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSubscription)
	}
	if sub.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidSubscription)
	}
	if strings.TrimSpace(sub.ServiceName) == "" {
		return fmt.Errorf("%w: missing service name", ErrInvalidSubscription)
	}
	if sub.Confidence < 0 || sub.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidSubscription)
	}
	return nil
}

// validateAlert validates an alert before it is written.
func validateAlert(alert *model.Alert) error {
	if alert == nil {
		return fmt.Errorf("%w: alert", ErrNilParameter)
	}
	if alert.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidAlert)
	}
	if alert.SubscriptionID == "" {
		return fmt.Errorf("%w: missing subscription ID", ErrInvalidAlert)
	}
	if alert.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidAlert)
	}
	return nil
}

// validateVendor validates a vendor before it is written.
func validateVendor(vendor *model.Vendor) error {
	if vendor == nil {
		return fmt.Errorf("%w: vendor", ErrNilParameter)
	}
	if vendor.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidVendor)
	}
	if strings.TrimSpace(vendor.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidVendor)
	}
	return nil
}

// validateAccount validates an email account before it is written.
func validateAccount(account *model.EmailAccount) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if account.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidAccount)
	}
	if strings.TrimSpace(account.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidAccount)
	}
	return nil
}
