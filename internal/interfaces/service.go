package interfaces

// Service is implemented by every interface exposing the daemon, like the
// http api.
type Service interface {
	Start() error
	Stop()
}
