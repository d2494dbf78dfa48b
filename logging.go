package permit

import "github.com/oarkflow/permit/logger"

// Logger is re-exported so consumers don't need to import the logger package
// for the common case.
type Logger = logger.Logger

// WithLogger installs a Logger on the Session via SessionOption.
func WithLogger(l logger.Logger) SessionOption {
	return func(s *Session) error {
		s.logger = l
		return nil
	}
}
