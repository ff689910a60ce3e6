package validation

import "github.com/rappen/RappSack/pkg/xrm"

// Validator checks remote execution contexts before they reach a plugin.
type Validator interface {
	ValidatePayload(data []byte) error
	ValidateContext(ec *xrm.ExecutionContext) error
}
