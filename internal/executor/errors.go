package executor

import (
	"errors"

	"github.com/jitvcs/jit/internal/jerrors"
)

// asJErr unwraps err into a *jerrors.Error, if it is one.
func asJErr(err error) (*jerrors.Error, bool) {
	var jerr *jerrors.Error
	if errors.As(err, &jerr) {
		return jerr, true
	}
	return nil, false
}
