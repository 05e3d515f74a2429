package supervisor

import "errors"

// ErrCoreApp is returned when remove_app targets a core=true record.
var ErrCoreApp = errors.New("cannot remove core app")
