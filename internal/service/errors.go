package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrInvalidPassword           = errors.New("invalid password")
	ErrWeakPassword              = errors.New("password too short")
	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email")
	ErrEmailRecipientRejected    = errors.New("email recipient rejected")

	ErrNoKeyAvailable          = errors.New("no license key available")
	ErrDuplicateKey            = errors.New("duplicate license key")
	ErrInvalidLicenseKey       = errors.New("invalid license key")
	ErrInvalidGroupCapacity    = errors.New("invalid license group capacity")
	ErrLicenseKeyNotFound      = errors.New("license key not found")
	ErrLicenseGroupNotFound    = errors.New("license group not found")
	ErrDuplicateAttempt        = errors.New("automation already attempted for order")
	ErrLedgerEntryNotFound     = errors.New("automation ledger entry not found")
	ErrPersistenceFailure      = errors.New("persistence failure")
	ErrUnresolvableOrder       = errors.New("job event cannot be mapped to an order")
	ErrUnknownJobEvent         = errors.New("unknown job event type")
	ErrInvalidJobEvent         = errors.New("invalid job event payload")
	ErrOrderNotFound           = errors.New("order not found")
	ErrPlayerIDMissing         = errors.New("player id missing")
	ErrOrderNotEligible        = errors.New("order not eligible for automation")
	ErrAutomationDisabled      = errors.New("automation disabled")
	ErrAutomationConfigInvalid = errors.New("automation config invalid")
	ErrAlertNotConfigured      = errors.New("alert recipients not configured")
	ErrRouterStopped           = errors.New("job event router stopped")
	ErrSweepInProgress         = errors.New("reconcile sweep already running")
)

// DuplicateKeyError 导入时命中重复卡密
type DuplicateKeyError struct {
	Count     int
	InRequest bool // 是否为请求内部重复
}

func (e *DuplicateKeyError) Error() string {
	if e.InRequest {
		return fmt.Sprintf("%d duplicate license keys in request", e.Count)
	}
	return fmt.Sprintf("%d license keys already exist", e.Count)
}

// Is 支持 errors.Is(err, ErrDuplicateKey)
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistenceFailure, op, err)
}
