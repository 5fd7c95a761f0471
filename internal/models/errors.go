package models

import "errors"

// ErrNotFound is returned by stores when a unit, cabin or reservation does not exist.
var ErrNotFound = errors.New("not found")
