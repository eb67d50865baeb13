package iface

// Backend runs one forward pass of a depth model.
// Implementations own the underlying engine session; Run must not be
// called concurrently unless the implementation says otherwise.
type Backend interface {
	Run(input Tensor) (Tensor, error)
	CheckConfig() EngineConfig
	Destroy()
}
