package errs

// 错误码
const (
	AuthenticationError = 1001
	ForbiddenError      = 1002
	InvalidPayloadError = 1003
	UnknownEventError   = 1004

	SendMessageError    = 2001
	RecipientOffline    = 2002
	RecipientBusy       = 2003
	RecordNotFound      = 3001
	RecordConflict      = 3002
	ServerInternalError = 5000
)

// 对外可见的错误，Msg 即推送给客户端的文案
var (
	ErrAuthentication = NewCodeError(AuthenticationError, "authentication error")
	ErrForbidden      = NewCodeError(ForbiddenError, "forbidden")
	ErrInvalidPayload = NewCodeError(InvalidPayloadError, "Invalid payload")
	ErrUnknownEvent   = NewCodeError(UnknownEventError, "Unknown event")

	ErrSendMessage      = NewCodeError(SendMessageError, "Failed to send message")
	ErrRecipientOffline = NewCodeError(RecipientOffline, "User is offline")
	ErrRecipientBusy    = NewCodeError(RecipientBusy, "User is busy on another call")

	ErrRecordNotFound = NewCodeError(RecordNotFound, "record not found")
	ErrRecordConflict = NewCodeError(RecordConflict, "record conflict")

	ErrInternal = NewCodeError(ServerInternalError, "Internal server error")
)
