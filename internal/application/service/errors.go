package service

import "errors"

// ErrInvalidOrder is returned when an order placement request is malformed
var ErrInvalidOrder = errors.New("invalid order")
