package address

// ImageCodec is the QR collaborator contract: token text to scannable
// image bytes and back. Implementations live outside the core; handlers
// treat scan failures as bad user input.
type ImageCodec interface {
	RenderImage(token string) ([]byte, error)
	ScanImage(img []byte) (string, error)
}
