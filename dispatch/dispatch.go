// Package dispatch defines the execution capability the recovered-call
// gateway forwards to. The gateway only establishes under whose authority an
// operation runs; what operations exist is the dispatcher's business.
package dispatch

import (
	"context"

	"github.com/recoverylabs/recoveryd/types"
)

// Dispatcher executes an opaque operation under the authority of the acting
// account. Failures are the dispatcher's own and carry no meaning for
// recovery state.
type Dispatcher interface {
	Dispatch(ctx context.Context, acting types.AccountID, operation []byte) error
}
