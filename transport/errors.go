package transport

import (
	"github.com/goliatone/go-banklink/core"
	goerrors "github.com/goliatone/go-errors"
)

// transportError wraps source, when set, in an envelope whose text code comes
// from the same category table the service uses.
func transportError(source error, category goerrors.Category, code int, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(code).WithTextCode(core.LinkTextCode(category))
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}
