package softi2c

import "errors"

// ErrNACK is returned by Transfer when the slave did not acknowledge the
// address byte or a data byte. The byte count returned alongside it tells
// how much of the message went through before the failure.
var ErrNACK = errors.New("softi2c: NACK received")

// ErrZeroLength is returned for messages with an empty buffer. The bus is
// not touched in that case.
var ErrZeroLength = errors.New("softi2c: message length must be at least 1")

// ErrBadAddress is returned for slave addresses that do not fit in 7 bits.
var ErrBadAddress = errors.New("softi2c: invalid 7-bit address")
