package session

// ErrorCode classifies adapter failures.
type ErrorCode string

const (
	ErrorCodeDevice        ErrorCode = "device"
	ErrorCodeFormat        ErrorCode = "format"
	ErrorCodeTranscode     ErrorCode = "transcode"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeState         ErrorCode = "state"
)

// Error is the single error type every adapter failure is wrapped
// into. The message of the underlying cause is carried verbatim.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}
