package depth

import "errors"

// Every stage failure is terminal for the current image. Callers match
// with errors.Is; the wrapped message carries the shape, path or engine
// diagnostics.
var (
	ErrImageLoad           = errors.New("image load error")
	ErrImageSave           = errors.New("image save error")
	ErrInferenceFailed     = errors.New("inference failed")
	ErrUnexpectedBatchSize = errors.New("unexpected batch size")
	ErrUnexpectedShape     = errors.New("unexpected shape")
	ErrUnsupportedRank     = errors.New("unsupported output rank")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrUnknownVariant      = errors.New("unknown model variant")
)
