package flashqerr

import (
	"errors"
	"io/fs"
	"syscall"
)

func isPermissionError(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

func isNoSpaceError(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
