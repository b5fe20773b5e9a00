package repository

// Error codes S3-compatible services return for unusable credentials.
var authErrorCodes = map[string]struct{}{
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
}

func isAuthErrorCode(code string) bool {
	_, ok := authErrorCodes[code]
	return ok
}
