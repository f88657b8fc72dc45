package analysis

// validate checks input constraints before any circuit-breaker involvement.
// Pure and synchronous: no I/O, no side effects.
func (s *Service) validate(image []byte, language string) error {
	if len(image) == 0 {
		return validationError("image data is empty")
	}
	if int64(len(image)) > s.maxImage {
		return validationError("image size %d exceeds maximum of %d bytes", len(image), s.maxImage)
	}
	if _, ok := s.languages[language]; !ok {
		return validationError("unsupported language %q", language)
	}
	return nil
}
