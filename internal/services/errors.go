package services

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidInput         = errors.New("invalid input")
	ErrProjectNotOpen       = errors.New("project is not accepting contributions")
	ErrProjectClosed        = errors.New("project deadline has passed")
	ErrBelowMinimum         = errors.New("amount is below the project minimum")
	ErrPayoutsUnverified    = errors.New("project owner has no verified payout account")
	ErrPayoutAccountInvalid = errors.New("payout account must be reconnected")
)
